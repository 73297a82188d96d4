package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"nuclight.org/batch-share-bot/app/events"
	"nuclight.org/batch-share-bot/app/services"
	"nuclight.org/batch-share-bot/app/storage"
	e "nuclight.org/batch-share-bot/pkg/entities"
	"nuclight.org/batch-share-bot/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	member    int64 = 1001
	stranger  int64 = 2002
	botName         = "share_bot"
	channelID       = "@news_channel"
)

type fakeGate map[int64]e.Membership

func (g fakeGate) Check(_ context.Context, userID int64) e.Membership {
	return g[userID]
}

type sentFile struct {
	chatID int64
	file   e.FileRecord
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentFile
	failOn map[string]bool
}

func (s *fakeSender) SendFile(_ context.Context, chatID int64, f e.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[f.FileUniqueID] {
		return errors.New("telegram: Bad Request: wrong file identifier")
	}
	s.sent = append(s.sent, sentFile{chatID: chatID, file: f})
	return nil
}

type recordedEvent struct {
	key string
	env events.Envelope
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, key string, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{key: key, env: env})
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		keys = append(keys, ev.key)
	}
	return keys
}

type testEnv struct {
	handler   *Handler
	store     *storage.Store
	sender    *fakeSender
	publisher *fakePublisher
}

func sequenceIDs(ids ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func newTestEnv(t *testing.T, newID func() string) *testEnv {
	t.Helper()

	store, err := storage.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "bot.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := logger.Discard()
	env := &testEnv{
		store:     store,
		sender:    &fakeSender{failOn: map[string]bool{}},
		publisher: &fakePublisher{},
	}
	env.handler = &Handler{
		Log:         log,
		Gate:        fakeGate{member: e.MembershipMember, stranger: e.MembershipNotMember},
		Batches:     &services.BatchSrv{Log: log, Store: store, NewID: newID},
		Files:       &services.FileSrv{Log: log, Store: store},
		Sender:      env.sender,
		Events:      env.publisher,
		BotUsername: botName,
		ChannelName: channelID,
	}

	return env
}

func command(chatID int64, text string) e.Event {
	return e.Event{Kind: e.EventKindCommand, UpdateID: 1, MessageID: 1, ChatID: chatID, Text: text}
}

func upload(chatID int64, uid string, kind e.FileKind) e.Event {
	return e.Event{
		Kind:   e.EventKindFile,
		ChatID: chatID,
		File: &e.FileInfo{
			FileID:       "id-" + uid,
			FileUniqueID: uid,
			FileName:     uid + ".bin",
			MimeType:     "application/octet-stream",
			Kind:         kind,
		},
	}
}

func handle(t *testing.T, h *Handler, ev e.Event) *e.Reply {
	t.Helper()

	reply, err := h.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, e.MethodSendMessage, reply.Method)
	assert.Equal(t, ev.ChatID, reply.ChatID)
	assert.True(t, reply.DisableWebPagePreview)

	return reply
}

func TestHandler_Scenario(t *testing.T) {
	env := newTestEnv(t, sequenceIDs("abc1234"))
	h := env.handler

	reply := handle(t, h, command(member, "/start"))
	assert.Equal(t, welcomeText, reply.Text)
	assert.Equal(t, tgbotapi.ModeMarkdown, reply.ParseMode)

	reply = handle(t, h, upload(member, "F1", e.FileKindDocument))
	assert.Equal(t, "You need to create a batch first by using /batch.", reply.Text)

	reply = handle(t, h, command(member, "/batch"))
	assert.Equal(t, "New batch created with ID: abc1234. You can now upload files.", reply.Text)

	reply = handle(t, h, command(member, "/batch"))
	assert.Equal(t, "You already have an active batch. Use that to upload files until it's full.", reply.Text)

	reply = handle(t, h, upload(member, "F1", e.FileKindDocument))
	assert.Equal(t, "File information saved successfully!", reply.Text)

	reply = handle(t, h, upload(member, "F1", e.FileKindDocument))
	assert.Equal(t, "This file has already been uploaded.", reply.Text)

	reply = handle(t, h, upload(member, "F2", e.FileKindPhoto))
	assert.Equal(t, "File information saved successfully!", reply.Text)

	reply = handle(t, h, command(member, "/showbatches"))
	assert.Equal(t, "Your batch IDs:\n[abc1234](https://t.me/share_bot?start=abc1234)", reply.Text)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, reply.ParseMode)

	reply = handle(t, h, command(member, "/start abc1234"))
	assert.Equal(t, "Files from Batch ID: abc1234 have been sent.", reply.Text)
	require.Len(t, env.sender.sent, 2)
	assert.Equal(t, "F1", env.sender.sent[0].file.FileUniqueID)
	assert.Equal(t, e.FileKindDocument, env.sender.sent[0].file.Kind)
	assert.Equal(t, "F2", env.sender.sent[1].file.FileUniqueID)
	assert.Equal(t, e.FileKindPhoto, env.sender.sent[1].file.Kind)
	assert.Equal(t, member, env.sender.sent[0].chatID)

	reply = handle(t, h, command(member, "/start nope"))
	assert.Equal(t, "No files found in batch ID: nope.", reply.Text)

	assert.Equal(t, []string{events.KeyBatchCreated, events.KeyBatchFileAdded, events.KeyBatchFileAdded}, env.publisher.keys())
	assert.Equal(t, events.BatchCreated{BatchID: "abc1234", UserID: member}, env.publisher.events[0].env.Data)
	assert.Equal(t, events.BatchFileAdded{BatchID: "abc1234", UserID: member, FileUniqueID: "F2", FileType: "photo"}, env.publisher.events[2].env.Data)
}

func TestHandler_DeniedSenderChangesNothing(t *testing.T) {
	env := newTestEnv(t, sequenceIDs("abc1234"))
	h := env.handler
	h.Gate = fakeGate{member: e.MembershipMember, stranger: e.MembershipLookupFailed}

	for _, ev := range []e.Event{
		command(stranger, "/batch"),
		command(stranger, "/start"),
		upload(stranger, "F1", e.FileKindAudio),
		{Kind: e.EventKindUnrecognized, ChatID: stranger},
	} {
		reply := handle(t, h, ev)
		assert.Equal(t, `You need to join our @news\_channel to use this bot.`, reply.Text)
		assert.Equal(t, tgbotapi.ModeMarkdown, reply.ParseMode)
	}

	batches, err := env.store.ListBatches(context.Background(), stranger)
	require.NoError(t, err)
	assert.Empty(t, batches)

	exists, err := env.store.FileExists(context.Background(), stranger, "F1")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Empty(t, env.publisher.keys())
}

func TestHandler_BatchFillsUp(t *testing.T) {
	env := newTestEnv(t, sequenceIDs("first01", "second2"))
	h := env.handler

	handle(t, h, command(member, "/batch"))
	for i := range e.BatchCapacity {
		reply := handle(t, h, upload(member, fmt.Sprintf("U%02d", i), e.FileKindVideo))
		require.Equal(t, "File information saved successfully!", reply.Text)
	}

	reply := handle(t, h, upload(member, "overflow", e.FileKindVideo))
	assert.Equal(t, "You need to create a batch first by using /batch.", reply.Text)

	reply = handle(t, h, command(member, "/batch"))
	assert.Equal(t, "New batch created with ID: second2. You can now upload files.", reply.Text)

	reply = handle(t, h, command(member, "/showbatches"))
	assert.Equal(t,
		"Your batch IDs:\n[first01](https://t.me/share_bot?start=first01) [second2](https://t.me/share_bot?start=second2)",
		reply.Text)

	handle(t, h, command(member, "/start first01"))
	require.Len(t, env.sender.sent, e.BatchCapacity)
	for i, s := range env.sender.sent {
		assert.Equal(t, fmt.Sprintf("U%02d", i), s.file.FileUniqueID)
	}
}

func TestHandler_CreateExhausted(t *testing.T) {
	env := newTestEnv(t, sequenceIDs("dup0001", "dup0001"))
	h := env.handler

	handle(t, h, command(member, "/batch"))
	for i := range e.BatchCapacity {
		handle(t, h, upload(member, fmt.Sprintf("U%02d", i), e.FileKindDocument))
	}

	reply, err := h.HandleEvent(context.Background(), command(member, "/batch"))
	require.ErrorIs(t, err, services.ErrBatchCreationExhausted)
	require.NotNil(t, reply)
	assert.Equal(t, "Error creating batch: "+services.ErrBatchCreationExhausted.Error(), reply.Text)

	batches, err := env.store.ListBatches(context.Background(), member)
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestHandler_Commands(t *testing.T) {
	env := newTestEnv(t, sequenceIDs("abc1234"))
	h := env.handler

	tests := []struct {
		text string
		want string
	}{
		{text: "/START", want: welcomeText},
		{text: "/start@share_bot", want: welcomeText},
		{text: "/start@Share_Bot", want: welcomeText},
		{text: "/start@other_bot", want: "Unknown command. Please use /start or /batch."},
		{text: "hello there", want: "Unknown command. Please use /start or /batch."},
		{text: "   ", want: "Unknown command. Please use /start or /batch."},
		{text: "/showbatches extra", want: "You have no batches created yet."},
		{text: "/start   missing_1", want: `No files found in batch ID: missing\_1.`},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			reply := handle(t, h, command(member, tt.text))
			assert.Equal(t, tt.want, reply.Text)
		})
	}
}

func TestHandler_IgnoredEvents(t *testing.T) {
	h := &Handler{Log: logger.Discard(), Gate: fakeGate{member: e.MembershipMember}}

	reply, err := h.HandleEvent(context.Background(), e.Event{Kind: e.EventKindEmpty})
	require.NoError(t, err)
	assert.Nil(t, reply)

	reply, err = h.HandleEvent(context.Background(), e.Event{Kind: e.EventKindUnrecognized, ChatID: member})
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestHandler_DeliverySkipsBrokenFiles(t *testing.T) {
	env := newTestEnv(t, sequenceIDs("abc1234"))
	h := env.handler

	handle(t, h, command(member, "/batch"))
	handle(t, h, upload(member, "A", e.FileKindDocument))
	handle(t, h, upload(member, "B", e.FileKindAudio))
	handle(t, h, upload(member, "C", e.FileKindDocument))

	noID := upload(member, "D", e.FileKindDocument)
	noID.File.FileID = ""
	handle(t, h, noID)

	env.sender.failOn["B"] = true

	reply := handle(t, h, command(member, "/start abc1234"))
	assert.Equal(t, "Files from Batch ID: abc1234 have been sent.", reply.Text)

	var got []string
	for _, s := range env.sender.sent {
		got = append(got, s.file.FileUniqueID)
	}
	assert.Equal(t, []string{"A", "C"}, got)
}

func TestHandler_PublishFailureIsIgnored(t *testing.T) {
	env := newTestEnv(t, sequenceIDs("abc1234"))
	env.publisher.err = errors.New("amqp: channel closed")

	reply := handle(t, env.handler, command(member, "/batch"))
	assert.Equal(t, "New batch created with ID: abc1234. You can now upload files.", reply.Text)
}

type fakeBatches struct {
	noActive  bool
	activeErr error
	listErr   error
	appendErr error
	manifest  []string
	maniErr   error
}

func (f *fakeBatches) ActiveBatch(context.Context, int64) (string, bool, error) {
	if f.activeErr != nil {
		return "", false, f.activeErr
	}
	if f.noActive {
		return "", false, nil
	}
	return "abc1234", true, nil
}

func (f *fakeBatches) CreateBatch(context.Context, int64) (string, error) {
	return "", services.ErrActiveBatchExists
}

func (f *fakeBatches) AppendFile(context.Context, string, string) error { return f.appendErr }

func (f *fakeBatches) ListBatches(context.Context, int64) ([]e.Batch, error) {
	return nil, f.listErr
}

func (f *fakeBatches) Manifest(context.Context, string) ([]string, error) {
	return f.manifest, f.maniErr
}

type fakeFiles struct {
	existsErr  error
	upsertErr  error
	resolveErr error
	upserted   []e.FileInfo
}

func (f *fakeFiles) Exists(context.Context, int64, string) (bool, error) { return false, f.existsErr }

func (f *fakeFiles) Upsert(_ context.Context, info e.FileInfo, _ int64) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, info)
	return nil
}

func (f *fakeFiles) Resolve(context.Context, []string) ([]e.FileRecord, error) {
	return nil, f.resolveErr
}

func TestHandler_StorageFailures(t *testing.T) {
	dbErr := errors.New("database is locked")

	tests := []struct {
		name    string
		batches *fakeBatches
		files   *fakeFiles
		event   e.Event
		want    string
		wantErr bool
	}{
		{
			name:    "create lookup",
			batches: &fakeBatches{activeErr: dbErr},
			files:   &fakeFiles{},
			event:   command(member, "/batch"),
			want:    "Error creating batch: ",
			wantErr: true,
		},
		{
			name:    "list",
			batches: &fakeBatches{listErr: dbErr},
			files:   &fakeFiles{},
			event:   command(member, "/showbatches"),
			want:    "Error retrieving batch IDs: ",
			wantErr: true,
		},
		{
			name:    "manifest",
			batches: &fakeBatches{maniErr: dbErr},
			files:   &fakeFiles{},
			event:   command(member, "/start abc1234"),
			want:    "Error retrieving files in batch: ",
			wantErr: true,
		},
		{
			name:    "resolve",
			batches: &fakeBatches{manifest: []string{"A"}},
			files:   &fakeFiles{resolveErr: dbErr},
			event:   command(member, "/start abc1234"),
			want:    "Error retrieving files in batch: ",
			wantErr: true,
		},
		{
			name:    "missing batch",
			batches: &fakeBatches{maniErr: services.ErrBatchNotFound},
			files:   &fakeFiles{},
			event:   command(member, "/start abc1234"),
			want:    "No files found in batch ID: abc1234.",
		},
		{
			name:    "empty manifest",
			batches: &fakeBatches{manifest: []string{}},
			files:   &fakeFiles{},
			event:   command(member, "/start abc1234"),
			want:    "No files found in batch ID: abc1234.",
		},
		{
			name:    "upload lookup",
			batches: &fakeBatches{activeErr: dbErr},
			files:   &fakeFiles{},
			event:   upload(member, "F1", e.FileKindDocument),
			want:    "Failed to save file information.",
			wantErr: true,
		},
		{
			name:    "dedup check",
			batches: &fakeBatches{},
			files:   &fakeFiles{existsErr: dbErr},
			event:   upload(member, "F1", e.FileKindDocument),
			want:    "Failed to save file information.",
			wantErr: true,
		},
		{
			name:    "upsert",
			batches: &fakeBatches{},
			files:   &fakeFiles{upsertErr: dbErr},
			event:   upload(member, "F1", e.FileKindDocument),
			want:    "Failed to save file information.",
			wantErr: true,
		},
		{
			name:    "append",
			batches: &fakeBatches{appendErr: services.ErrBatchFull},
			files:   &fakeFiles{},
			event:   upload(member, "F1", e.FileKindDocument),
			want:    "File information saved successfully!",
		},
		{
			name:    "create race",
			batches: &fakeBatches{noActive: true},
			files:   &fakeFiles{},
			event:   command(member, "/batch"),
			want:    "You already have an active batch. Use that to upload files until it's full.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handler{
				Log:         logger.Discard(),
				Gate:        fakeGate{member: e.MembershipMember},
				Batches:     tt.batches,
				Files:       tt.files,
				Sender:      &fakeSender{},
				BotUsername: botName,
			}

			reply, err := h.HandleEvent(context.Background(), tt.event)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, reply)
			assert.True(t, strings.HasPrefix(reply.Text, tt.want), reply.Text)
		})
	}
}
