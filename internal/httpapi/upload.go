package httpapi

import (
	"fmt"
	"net/http"

	"github.com/ew384/automaton-core/internal/upload"
)

// platformByType maps the legacy numeric platform codes used by
// postVideo/postVideoBatch/validateAccount to plugin platform names (§6).
var platformByType = map[int]string{
	1: "xiaohongshu",
	2: "wechat",
	3: "douyin",
	4: "kuaishou",
}

func resolvePlatform(typeCode int) (string, error) {
	p, ok := platformByType[typeCode]
	if !ok {
		return "", fmt.Errorf("unknown platform type %d", typeCode)
	}
	return p, nil
}

// UploadHandler serves /postVideo and /postVideoBatch, the legacy-envelope
// upload endpoints wired onto internal/upload.Pipeline.
type UploadHandler struct {
	pipeline *upload.Pipeline
}

func NewUploadHandler(p *upload.Pipeline) *UploadHandler {
	return &UploadHandler{pipeline: p}
}

func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /postVideo", h.handlePostVideo)
	mux.HandleFunc("POST /postVideoBatch", h.handlePostVideoBatch)
}

type accountRef struct {
	AccountName string `json:"accountName"`
	CookieFile  string `json:"cookieFile"`
}

type postVideoReq struct {
	FileList     []string     `json:"fileList"`
	AccountList  []accountRef `json:"accountList"`
	Type         int          `json:"type"`
	Title        string       `json:"title"`
	Tags         []string     `json:"tags"`
	Category     string       `json:"category"`
	EnableTimer  bool         `json:"enableTimer"`
	VideosPerDay int          `json:"videosPerDay"`
	DailyTimes   []string     `json:"dailyTimes"`
	StartDays    int          `json:"startDays"`
}

func (req postVideoReq) toBatchInputs() ([]upload.BatchFile, []upload.BatchAccount, upload.ScheduleOptions, error) {
	platform, err := resolvePlatform(req.Type)
	if err != nil {
		return nil, nil, upload.ScheduleOptions{}, err
	}

	files := make([]upload.BatchFile, len(req.FileList))
	for i, f := range req.FileList {
		files[i] = upload.BatchFile{FilePath: f, Title: req.Title, Tags: req.Tags, Category: req.Category}
	}

	accounts := make([]upload.BatchAccount, len(req.AccountList))
	for i, a := range req.AccountList {
		accounts[i] = upload.BatchAccount{Platform: platform, AccountName: a.AccountName, CookieFile: a.CookieFile}
	}

	schedule := upload.ScheduleOptions{
		Enabled:      req.EnableTimer,
		VideosPerDay: req.VideosPerDay,
		DailyTimes:   req.DailyTimes,
		StartDays:    req.StartDays,
	}
	return files, accounts, schedule, nil
}

func (h *UploadHandler) handlePostVideo(w http.ResponseWriter, r *http.Request) {
	var req postVideoReq
	if err := decodeJSON(r, &req); err != nil {
		writeLegacyErr(w, http.StatusBadRequest, err)
		return
	}
	if len(req.FileList) == 0 || len(req.AccountList) == 0 {
		writeLegacyErr(w, http.StatusBadRequest, fmt.Errorf("fileList and accountList are required"))
		return
	}

	files, accounts, schedule, err := req.toBatchInputs()
	if err != nil {
		writeLegacyErr(w, http.StatusBadRequest, err)
		return
	}

	results := h.pipeline.Batch(r.Context(), files, accounts, schedule)
	writeLegacyOK(w, results)
}

func (h *UploadHandler) handlePostVideoBatch(w http.ResponseWriter, r *http.Request) {
	// postVideoBatch shares postVideo's body shape; the distinction upstream
	// is purely about client call-site conventions (single vs batch caller),
	// not a different pipeline operation (§6).
	h.handlePostVideo(w, r)
}
