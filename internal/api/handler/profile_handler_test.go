package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"cv-core-go/internal/api/handler"
	"cv-core-go/internal/api/router"
	"cv-core-go/internal/processor"
	"cv-core-go/internal/profile"
	"cv-core-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploads struct {
	lastReq *processor.UploadRequest
	result  *processor.UploadResult
	err     error
}

func (f *fakeUploads) ProcessUpload(ctx context.Context, req *processor.UploadRequest) (*processor.UploadResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeReader struct {
	profiles map[string]*types.CandidateProfile
	versions map[string]*types.ProfileVersion
	lastSel  profile.Selector
	updErr   error
}

func readerKey(candidateID, versionKey string) string {
	return candidateID + "|" + versionKey
}

func (f *fakeReader) Get(ctx context.Context, candidateID string, sel profile.Selector) (*types.CandidateProfile, *types.ProfileVersion, error) {
	f.lastSel = sel
	key := readerKey(candidateID, sel.VersionKey)
	version, ok := f.versions[key]
	if !ok {
		return nil, nil, profile.ErrVersionNotFound
	}
	return f.profiles[key], version, nil
}

func (f *fakeReader) Update(ctx context.Context, candidateID string, update *types.ProfileUpdate, versionKey string) (*types.CandidateProfile, *types.ProfileVersion, error) {
	if f.updErr != nil {
		return nil, nil, f.updErr
	}
	key := readerKey(candidateID, versionKey)
	version, ok := f.versions[key]
	if !ok {
		return nil, nil, profile.ErrVersionNotFound
	}
	merged := f.profiles[key]
	if update.FullName != nil {
		merged.Identity.FullName = update.FullName
	}
	return merged, version, nil
}

func (f *fakeReader) ListVersions(ctx context.Context, candidateID string) ([]types.ProfileVersion, error) {
	var out []types.ProfileVersion
	for key, v := range f.versions {
		if key == readerKey(candidateID, v.VersionKey) {
			out = append(out, *v)
		}
	}
	return out, nil
}

type fakeScores struct {
	score     *types.MatchScore
	triggered []string
	getErr    error
	trigErr   error
}

func (f *fakeScores) GetScore(ctx context.Context, candidateID, versionKey, jobID string) (*types.MatchScore, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.score != nil {
		return f.score, nil
	}
	return &types.MatchScore{
		CandidateID: candidateID,
		VersionKey:  versionKey,
		JobID:       jobID,
		Status:      types.ScorePending,
	}, nil
}

func (f *fakeScores) TriggerScore(ctx context.Context, candidateID, versionKey, jobID string) error {
	if f.trigErr != nil {
		return f.trigErr
	}
	f.triggered = append(f.triggered, fmt.Sprintf("%s/%s/%s", candidateID, versionKey, jobID))
	return nil
}

func newTestEngine(t *testing.T, apiKey string, uploads *fakeUploads, reader *fakeReader, scores *fakeScores) *server.Hertz {
	t.Helper()
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(h, apiKey, handler.NewProfileHandler(uploads, reader, scores))
	return h
}

func seededReader() *fakeReader {
	createdAt := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	version := &types.ProfileVersion{
		CandidateID: "cand-1",
		VersionKey:  "20260828_100000_1a2b3c4d",
		ParsedPath:  "parsed/cand-1/20260828_100000_1a2b3c4d.json",
		CreatedAt:   createdAt,
	}
	name := "张三"
	email := "zhangsan@example.com"
	candidateProfile := &types.CandidateProfile{
		Identity: types.Identity{FullName: &name, Email: &email},
		SkillsAnalysis: types.SkillsAnalysis{
			ExplicitSkills: []string{"go", "mysql"},
		},
	}
	return &fakeReader{
		profiles: map[string]*types.CandidateProfile{
			readerKey("cand-1", ""):                 candidateProfile,
			readerKey("cand-1", version.VersionKey): candidateProfile,
		},
		versions: map[string]*types.ProfileVersion{
			readerKey("cand-1", ""):                 version,
			readerKey("cand-1", version.VersionKey): version,
		},
	}
}

func multipartUpload(t *testing.T, filename string, content []byte, targetJobID string) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if targetJobID != "" {
		require.NoError(t, writer.WriteField("target_job_id", targetJobID))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestHandleExtract_Success(t *testing.T) {
	name := "张三"
	uploads := &fakeUploads{result: &processor.UploadResult{
		CandidateID: "cand-1",
		VersionKey:  "20260828_100000_1a2b3c4d",
		ParsedPath:  "parsed/cand-1/20260828_100000_1a2b3c4d.json",
		Profile:     &types.CandidateProfile{Identity: types.Identity{FullName: &name}},
	}}
	engine := newTestEngine(t, "", uploads, seededReader(), &fakeScores{})

	body, contentType := multipartUpload(t, "resume.pdf", []byte("%PDF-1.4 fake"), "job-1")
	resp := ut.PerformRequest(engine.Engine, "POST", "/api/v1/profile/extract",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, uploads.lastReq)
	assert.Equal(t, "resume.pdf", uploads.lastReq.Filename)
	assert.Equal(t, "job-1", uploads.lastReq.TargetJobID)

	var result processor.UploadResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.Equal(t, "cand-1", result.CandidateID)
	assert.Equal(t, "20260828_100000_1a2b3c4d", result.VersionKey)
}

func TestHandleExtract_MissingFile(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})

	resp := ut.PerformRequest(engine.Engine, "POST", "/api/v1/profile/extract",
		&ut.Body{Body: bytes.NewBufferString("{}"), Len: 2},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleExtract_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"unsupported type", processor.ErrUnsupportedFileType, http.StatusBadRequest},
		{"too large", processor.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"duplicate", processor.ErrDuplicateDocument, http.StatusConflict},
		{"text extraction", processor.NewExtractError("cand-1", "首页不可读"), http.StatusUnprocessableEntity},
		{"store failure", processor.NewStoreError("cand-1", "minio不可用"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestEngine(t, "", &fakeUploads{err: tc.err}, seededReader(), &fakeScores{})
			body, contentType := multipartUpload(t, "resume.pdf", []byte("%PDF-1.4"), "")
			resp := ut.PerformRequest(engine.Engine, "POST", "/api/v1/profile/extract",
				&ut.Body{Body: body, Len: body.Len()},
				ut.Header{Key: "Content-Type", Value: contentType},
			)
			assert.Equal(t, tc.wantCode, resp.Code)
		})
	}
}

func TestHandleGetProfile_Latest(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})

	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/profile/cand-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var out handler.ProfileResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "cand-1", out.CandidateID)
	assert.Equal(t, "20260828_100000_1a2b3c4d", out.VersionKey)
	require.NotNil(t, out.Profile.Identity.FullName)
	assert.Equal(t, "张三", *out.Profile.Identity.FullName)
}

func TestHandleGetProfile_AsOfPassedToSelector(t *testing.T) {
	reader := seededReader()
	engine := newTestEngine(t, "", &fakeUploads{}, reader, &fakeScores{})

	resp := ut.PerformRequest(engine.Engine, "GET",
		"/api/v1/profile/cand-1?version=20260828_100000_1a2b3c4d&as_of=2026-08-28T12:00:00Z", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "20260828_100000_1a2b3c4d", reader.lastSel.VersionKey)
	assert.Equal(t, time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC), reader.lastSel.AsOf.UTC())
}

func TestHandleGetProfile_BadAsOf(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})
	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/profile/cand-1?as_of=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleGetProfile_NotFound(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})
	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/profile/cand-unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandleListVersions(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})

	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/profile/cand-1/versions", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var out struct {
		CandidateID string                 `json:"candidate_id"`
		Versions    []types.ProfileVersion `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Len(t, out.Versions, 1)
	assert.Equal(t, "20260828_100000_1a2b3c4d", out.Versions[0].VersionKey)
}

func TestHandleUpdate_Success(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})

	newName := "李四"
	payload, err := json.Marshal(handler.UpdateRequest{
		CandidateID:   "cand-1",
		ProfileUpdate: types.ProfileUpdate{FullName: &newName},
	})
	require.NoError(t, err)

	resp := ut.PerformRequest(engine.Engine, "PATCH", "/api/v1/profile/update",
		&ut.Body{Body: bytes.NewBuffer(payload), Len: len(payload)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	require.Equal(t, http.StatusOK, resp.Code)

	var out handler.UpdateResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "20260828_100000_1a2b3c4d", out.VersionKey)
	require.NotNil(t, out.Profile.Identity.FullName)
	assert.Equal(t, "李四", *out.Profile.Identity.FullName)
}

func TestHandleUpdate_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"empty payload", profile.ErrEmptyUpdate, http.StatusBadRequest},
		{"version missing", profile.ErrVersionNotFound, http.StatusNotFound},
		{"lock held", profile.ErrUpdateLocked, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reader := seededReader()
			reader.updErr = tc.err
			engine := newTestEngine(t, "", &fakeUploads{}, reader, &fakeScores{})

			name := "李四"
			payload, err := json.Marshal(handler.UpdateRequest{
				CandidateID:   "cand-1",
				ProfileUpdate: types.ProfileUpdate{FullName: &name},
			})
			require.NoError(t, err)

			resp := ut.PerformRequest(engine.Engine, "PATCH", "/api/v1/profile/update",
				&ut.Body{Body: bytes.NewBuffer(payload), Len: len(payload)},
				ut.Header{Key: "Content-Type", Value: "application/json"},
			)
			assert.Equal(t, tc.wantCode, resp.Code)
		})
	}
}

func TestHandleUpdate_MissingCandidateID(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})
	payload := []byte(`{"full_name":"李四"}`)
	resp := ut.PerformRequest(engine.Engine, "PATCH", "/api/v1/profile/update",
		&ut.Body{Body: bytes.NewBuffer(payload), Len: len(payload)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleGetScore_AbsentRowIsPending(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})

	resp := ut.PerformRequest(engine.Engine, "GET",
		"/api/v1/match/score?candidate_id=cand-1&version_key=20260828_100000_1a2b3c4d&job_id=job-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var score types.MatchScore
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &score))
	assert.Equal(t, types.ScorePending, score.Status)
	assert.Nil(t, score.Score)
}

func TestHandleGetScore_DefaultsToLatestVersion(t *testing.T) {
	scores := &fakeScores{}
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), scores)

	resp := ut.PerformRequest(engine.Engine, "GET",
		"/api/v1/match/score?candidate_id=cand-1&job_id=job-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var score types.MatchScore
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &score))
	assert.Equal(t, "20260828_100000_1a2b3c4d", score.VersionKey)
}

func TestHandleGetScore_MissingParams(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})
	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/match/score?candidate_id=cand-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleTriggerScore_Accepted(t *testing.T) {
	scores := &fakeScores{}
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), scores)

	payload := []byte(`{"candidate_id":"cand-1","job_id":"job-1"}`)
	resp := ut.PerformRequest(engine.Engine, "POST", "/api/v1/match/trigger",
		&ut.Body{Body: bytes.NewBuffer(payload), Len: len(payload)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Len(t, scores.triggered, 1)
	assert.Equal(t, "cand-1/20260828_100000_1a2b3c4d/job-1", scores.triggered[0])
}

func TestHandleTriggerScore_UnknownCandidate(t *testing.T) {
	engine := newTestEngine(t, "", &fakeUploads{}, seededReader(), &fakeScores{})
	payload := []byte(`{"candidate_id":"cand-unknown","job_id":"job-1"}`)
	resp := ut.PerformRequest(engine.Engine, "POST", "/api/v1/match/trigger",
		&ut.Body{Body: bytes.NewBuffer(payload), Len: len(payload)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	engine := newTestEngine(t, "secret-token", &fakeUploads{}, seededReader(), &fakeScores{})

	resp := ut.PerformRequest(engine.Engine, "GET", "/api/v1/profile/cand-1", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ut.PerformRequest(engine.Engine, "GET", "/api/v1/profile/cand-1", nil,
		ut.Header{Key: "Authorization", Value: "Bearer wrong-token"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ut.PerformRequest(engine.Engine, "GET", "/api/v1/profile/cand-1", nil,
		ut.Header{Key: "Authorization", Value: "Bearer secret-token"})
	assert.Equal(t, http.StatusOK, resp.Code)

	// 健康检查不在鉴权组内
	resp = ut.PerformRequest(engine.Engine, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}
