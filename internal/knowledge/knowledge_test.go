package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/messenger-concierge/pkg/logging"
)

func TestFormatFAQ(t *testing.T) {
	entries := []FAQEntry{
		{Question: "Giờ mở cửa?", Answer: json.RawMessage(`"8h - 20h"`)},
		{Question: "Bảng giá", Answer: json.RawMessage(`{"nặn mụn": "150k", "chăm sóc da": "300k"}`)},
		{Question: "Chi nhánh", Answer: json.RawMessage(`[{"name": "Q1"}, [{"name": "Q3"}]]`)},
		{Question: "", Answer: json.RawMessage(`"skipped"`)},
		{Question: "Empty", Answer: json.RawMessage(`""`)},
	}
	want := "Giờ mở cửa?: 8h - 20h\n" +
		"Bảng giá: \n- chăm sóc da: 300k\n- nặn mụn: 150k\n" +
		"Chi nhánh: name: Q1; name: Q3"
	assert.Equal(t, want, FormatFAQ(entries))
}

func TestSnapshot_Missing(t *testing.T) {
	snap := &Snapshot{Prompts: map[string]string{PromptMain: "main"}}
	p, err := snap.Prompt(context.Background(), PromptMain)
	require.NoError(t, err)
	assert.Equal(t, "main", p)

	_, err = snap.Prompt(context.Background(), PromptClassify)
	assert.ErrorIs(t, err, ErrMissing)
	_, err = snap.ConstantMessage(context.Background(), MessageIntroduce)
	assert.ErrorIs(t, err, ErrMissing)
}

type countingLoader struct {
	snap  *Snapshot
	err   error
	calls int
}

func (l *countingLoader) Load(context.Context) (*Snapshot, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.snap, nil
}

func TestCachedSource_ReloadsAfterTTL(t *testing.T) {
	loader := &countingLoader{snap: &Snapshot{Messages: map[string]string{MessageIntroduce: "Xin chào"}}}
	now := time.Unix(1_700_000_000, 0)
	src := NewCachedSource(loader, time.Minute, logging.Discard())
	src.now = func() time.Time { return now }
	ctx := context.Background()

	msg, err := src.ConstantMessage(ctx, MessageIntroduce)
	require.NoError(t, err)
	assert.Equal(t, "Xin chào", msg)
	_, _ = src.FAQ(ctx)
	assert.Equal(t, 1, loader.calls)

	now = now.Add(2 * time.Minute)
	loader.err = errors.New("s3 unavailable")
	msg, err = src.ConstantMessage(ctx, MessageIntroduce)
	require.NoError(t, err, "stale snapshot keeps serving")
	assert.Equal(t, "Xin chào", msg)
	assert.Equal(t, 2, loader.calls)

	src.Invalidate()
	loader.err = nil
	_, err = src.Functions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loader.calls)
}

func TestCachedSource_FirstLoadError(t *testing.T) {
	src := NewCachedSource(&countingLoader{err: errors.New("boom")}, 0, logging.Discard())
	_, err := src.Prompt(context.Background(), PromptMain)
	assert.Error(t, err)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*input.Bucket+"/"+*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Loader_Load(t *testing.T) {
	doc := `{
		"prompts": {"main": "You are a clinic assistant", "classify": "Reply booking or other"},
		"messages": {"introduce": "Đây là phòng khám"},
		"faq": [{"question": "Q", "answer": "A"}],
		"functions": [{"name": "introduce_clinic", "parameters": {"type": "object"}}]
	}`
	client := &fakeS3{objects: map[string][]byte{"kb/knowledge/snapshot.json": []byte(doc)}}
	snap, err := NewS3Loader(client, "kb", "").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "You are a clinic assistant", snap.Prompts[PromptMain])
	require.Len(t, snap.FunctionDefs, 1)
	assert.Equal(t, "introduce_clinic", snap.FunctionDefs[0].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(snap.FunctionDefs[0].Parameters))

	_, err = NewS3Loader(client, "kb", "missing.json").Load(context.Background())
	assert.Error(t, err)
}

func TestPostgresStore_Prompt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	mock.ExpectQuery("SELECT content FROM knowledge_prompts").
		WithArgs(PromptMain).
		WillReturnRows(pgxmock.NewRows([]string{"content"}).AddRow("main prompt"))
	mock.ExpectQuery("SELECT content FROM knowledge_prompts").
		WithArgs(PromptWelcome).
		WillReturnError(pgx.ErrNoRows)

	p, err := store.Prompt(context.Background(), PromptMain)
	require.NoError(t, err)
	assert.Equal(t, "main prompt", p)

	_, err = store.Prompt(context.Background(), PromptWelcome)
	assert.ErrorIs(t, err, ErrMissing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithQuerier(mock)

	mock.ExpectQuery("SELECT prompt_type, content FROM knowledge_prompts").
		WillReturnRows(pgxmock.NewRows([]string{"prompt_type", "content"}).AddRow(PromptMain, "main"))
	mock.ExpectQuery("SELECT message_type, content FROM knowledge_messages").
		WillReturnRows(pgxmock.NewRows([]string{"message_type", "content"}).AddRow(MessageIntroduce, "hello"))
	mock.ExpectQuery("SELECT question, answer FROM knowledge_faq").
		WillReturnRows(pgxmock.NewRows([]string{"question", "answer"}).AddRow("Q", []byte(`"A"`)))
	mock.ExpectQuery("SELECT name, description, parameters FROM knowledge_functions").
		WillReturnRows(pgxmock.NewRows([]string{"name", "description", "parameters"}).AddRow("introduce_clinic", "Show the clinic", []byte(`{}`)))

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", snap.Prompts[PromptMain])
	assert.Equal(t, "hello", snap.Messages[MessageIntroduce])
	assert.Equal(t, "Q: A", FormatFAQ(snap.FAQEntries))
	require.Len(t, snap.FunctionDefs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
