package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/lookbook/internal/config"
	"github.com/phrazzld/lookbook/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		GeminiAPIKey:      "test-key",
		AnalysisModel:     "analysis-model",
		ImageModel:        "image-model",
		VideoModel:        "video-model",
		VideoPollInterval: time.Millisecond,
	}
}

// fakeAPI records calls and replays scripted responses
type fakeAPI struct {
	mu sync.Mutex

	contentCalls   []string
	contentReplies []contentReply

	videoOp    *genai.GenerateVideosOperation
	videoErr   error
	polls      []*genai.GenerateVideosOperation
	pollCount  int
	downloaded []byte
}

type contentReply struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeAPI) GenerateContent(ctx context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentCalls = append(f.contentCalls, model)
	if len(f.contentReplies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := f.contentReplies[0]
	if len(f.contentReplies) > 1 {
		f.contentReplies = f.contentReplies[1:]
	}
	return r.resp, r.err
}

func (f *fakeAPI) GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, _ *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	return f.videoOp, f.videoErr
}

func (f *fakeAPI) GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation, _ *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollCount < len(f.polls) {
		next := f.polls[f.pollCount]
		f.pollCount++
		return next, nil
	}
	f.pollCount++
	return op, nil
}

func (f *fakeAPI) Download(ctx context.Context, uri genai.DownloadURI, _ *genai.DownloadFileConfig) ([]byte, error) {
	return f.downloaded, nil
}

func newFakeClient(f *fakeAPI) *Client {
	return newClient(f, f, f, testConfig(), testLogger())
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromText("here is your image"),
				genai.NewPartFromBytes(data, "image/png"),
			}, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func refs() []generation.Reference {
	return []generation.Reference{{Name: "frontside", MIMEType: "image/png", Data: []byte("png")}}
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.GeminiAPIKey = ""
	_, err = NewClient(context.Background(), cfg, testLogger())
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	cfg = testConfig()
	cfg.VideoModel = ""
	_, err = NewClient(context.Background(), cfg, testLogger())
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestNewClient_WithBaseURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BaseURL = "http://127.0.0.1:1"
	c, err := NewClient(context.Background(), cfg, testLogger(), WithHTTPClient(&http.Client{Timeout: time.Second}))
	require.NoError(t, err)
	assert.NotNil(t, c.models)
	assert.NotNil(t, c.operations)
	assert.NotNil(t, c.files)
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{contentReplies: []contentReply{{resp: textResponse("```json\n" +
		`{"garment_type":"kurta","colors":["blue"],"materials":["cotton"],"description":"A blue kurta"}` +
		"\n```")}}}

	a, err := newFakeClient(f).Analyze(context.Background(), generation.AnalysisInput{
		References: refs(),
		Gender:     "male",
	})
	require.NoError(t, err)
	assert.Equal(t, "kurta", a.GarmentType)
	assert.Equal(t, []string{"blue"}, a.Colors)
	assert.Equal(t, "male", a.Gender, "gender hint fills a missing value")
	assert.Equal(t, []string{"analysis-model"}, f.contentCalls)
}

func TestAnalyze_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		replies []contentReply
		want    error
		calls   int
	}{
		{
			name:    "malformed json",
			replies: []contentReply{{resp: textResponse("not json")}},
			want:    generation.ErrInvalidResponse,
			calls:   1,
		},
		{
			name:    "missing garment type",
			replies: []contentReply{{resp: textResponse(`{"colors":["red"]}`)}},
			want:    generation.ErrInvalidResponse,
			calls:   1,
		},
		{
			name: "safety block",
			replies: []contentReply{{resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
			}}},
			want:  generation.ErrContentBlocked,
			calls: 1,
		},
		{
			name:    "unauthorized is not retried",
			replies: []contentReply{{err: genai.APIError{Code: http.StatusUnauthorized, Message: "bad key"}}},
			want:    generation.ErrInvalidConfig,
			calls:   1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeAPI{contentReplies: tt.replies}
			_, err := newFakeClient(f).Analyze(context.Background(), generation.AnalysisInput{References: refs()})
			assert.ErrorIs(t, err, tt.want)
			assert.Len(t, f.contentCalls, tt.calls)
		})
	}
}

func TestAnalyze_NoReferences(t *testing.T) {
	t.Parallel()

	_, err := newFakeClient(&fakeAPI{}).Analyze(context.Background(), generation.AnalysisInput{})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{contentReplies: []contentReply{{resp: imageResponse([]byte("image-bytes"))}}}
	data, err := newFakeClient(f).Generate(context.Background(), "a prompt", refs(), "9:16")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)
	assert.Equal(t, []string{"image-model"}, f.contentCalls)
}

func TestGenerate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply contentReply
		want  error
	}{
		{"text only", contentReply{resp: textResponse("I cannot draw that")}, generation.ErrNoArtifact},
		{"prompt blocked", contentReply{resp: &genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		}}, generation.ErrContentBlocked},
		{"rate limited", contentReply{err: genai.APIError{Code: http.StatusTooManyRequests}}, generation.ErrTransientFailure},
		{"server error", contentReply{err: genai.APIError{Code: http.StatusServiceUnavailable}}, generation.ErrTransientFailure},
		{"no candidates", contentReply{resp: &genai.GenerateContentResponse{}}, generation.ErrInvalidResponse},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeAPI{contentReplies: []contentReply{tt.reply}}
			_, err := newFakeClient(f).Generate(context.Background(), "prompt", refs(), "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerate_RetryableClassification(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{contentReplies: []contentReply{{err: genai.APIError{Code: http.StatusInternalServerError}}}}
	_, err := newFakeClient(f).Generate(context.Background(), "prompt", refs(), "")
	assert.True(t, generation.IsRetryable(err))

	f = &fakeAPI{contentReplies: []contentReply{{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonProhibitedContent}},
	}}}}
	_, err = newFakeClient(f).Generate(context.Background(), "prompt", refs(), "")
	assert.False(t, generation.IsRetryable(err))
}

func doneOp(video *genai.Video) *genai.GenerateVideosOperation {
	return &genai.GenerateVideosOperation{
		Name: "operations/1",
		Done: true,
		Response: &genai.GenerateVideosResponse{
			GeneratedVideos: []*genai.GeneratedVideo{{Video: video}},
		},
	}
}

func TestSynthesizeVideo_PollsUntilDone(t *testing.T) {
	t.Parallel()

	pending := &genai.GenerateVideosOperation{Name: "operations/1"}
	f := &fakeAPI{
		videoOp:    pending,
		polls:      []*genai.GenerateVideosOperation{pending, pending, doneOp(&genai.Video{URI: "https://example/files/abc"})},
		downloaded: []byte("mp4"),
	}

	data, err := newFakeClient(f).SynthesizeVideo(context.Background(), []byte("primary"), generation.Analysis{GarmentType: "dress"})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4"), data)
	assert.Equal(t, 3, f.pollCount)
}

func TestSynthesizeVideo_InlineBytes(t *testing.T) {
	t.Parallel()

	f := &fakeAPI{videoOp: doneOp(&genai.Video{VideoBytes: []byte("inline")})}
	data, err := newFakeClient(f).SynthesizeVideo(context.Background(), []byte("primary"), generation.Analysis{})
	require.NoError(t, err)
	assert.Equal(t, []byte("inline"), data)
	assert.Zero(t, f.pollCount)
}

func TestSynthesizeVideo_Errors(t *testing.T) {
	t.Parallel()

	filtered := &genai.GenerateVideosOperation{
		Name:     "operations/2",
		Done:     true,
		Response: &genai.GenerateVideosResponse{RAIMediaFilteredCount: 1, RAIMediaFilteredReasons: []string{"unsafe"}},
	}
	failed := &genai.GenerateVideosOperation{
		Name:  "operations/3",
		Done:  true,
		Error: map[string]any{"code": 13, "message": "internal"},
	}

	tests := []struct {
		name string
		api  *fakeAPI
		want error
	}{
		{"filtered", &fakeAPI{videoOp: filtered}, generation.ErrContentBlocked},
		{"operation error", &fakeAPI{videoOp: failed}, generation.ErrGenerationFailed},
		{"no videos", &fakeAPI{videoOp: &genai.GenerateVideosOperation{Done: true}}, generation.ErrNoArtifact},
		{"start rejected", &fakeAPI{videoErr: genai.APIError{Code: http.StatusNotFound}}, generation.ErrInvalidConfig},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := newFakeClient(tt.api).SynthesizeVideo(context.Background(), []byte("primary"), generation.Analysis{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSynthesizeVideo_ContextDeadline(t *testing.T) {
	t.Parallel()

	pending := &genai.GenerateVideosOperation{Name: "operations/slow"}
	f := &fakeAPI{videoOp: pending}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newFakeClient(f).SynthesizeVideo(ctx, []byte("primary"), generation.Analysis{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStripFence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence(`  {"a":1} `))
}

func TestVideoPrompt(t *testing.T) {
	t.Parallel()

	p := videoPrompt(generation.Analysis{GarmentType: "saree", Colors: []string{"red", "gold"}})
	assert.Contains(t, p, "red and gold saree")
	assert.Contains(t, videoPrompt(generation.Analysis{}), "outfit")
}
