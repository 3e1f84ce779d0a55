package main

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vinefeed-server/internal/config"
	"vinefeed-server/internal/funnelcake"
	"vinefeed-server/internal/types"
	"vinefeed-server/internal/util"
	"vinefeed-server/internal/videos"
)

// Server wires the feed engine to its HTTP surface.
type Server struct {
	cfg        config.Config
	repo       *videos.Repository
	funnelcake *funnelcake.Client
	relayPool  *RelayPool

	statsBatcher     *Batcher[*types.VideoStats]
	cacheBackendType string
	startTime        time.Time
}

// FeedResponse is the envelope for every list-of-videos endpoint.
type FeedResponse struct {
	Videos []*types.VideoEvent `json:"videos"`
	Page   PageInfo            `json:"page"`
	Meta   MetaInfo            `json:"meta"`
}

// HomeFeedResponse adds the list-attribution maps to the feed envelope.
type HomeFeedResponse struct {
	Videos           []*types.VideoEvent `json:"videos"`
	VideoListSources map[string][]string `json:"video_list_sources,omitempty"`
	ListOnlyVideoIDs []string            `json:"list_only_video_ids,omitempty"`
	Page             PageInfo            `json:"page"`
	Meta             MetaInfo            `json:"meta"`
}

type PageInfo struct {
	Until *int64  `json:"until,omitempty"`
	Next  *string `json:"next,omitempty"`
}

type MetaInfo struct {
	GeneratedAt time.Time `json:"generated_at"`
}

func newMeta() MetaInfo {
	return MetaInfo{GeneratedAt: time.Now()}
}

// homeFeedRequest is the POST body for the home feed, which can carry
// curated-list references alongside the followed authors.
type homeFeedRequest struct {
	Authors   []string            `json:"authors"`
	Limit     int                 `json:"limit"`
	Until     int64               `json:"until"`
	VideoRefs map[string][]string `json:"video_refs,omitempty"`
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func (s *Server) parseLimit(v string) int {
	if v == "" {
		return s.cfg.DefaultFeedLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 200 {
		return s.cfg.DefaultFeedLimit
	}
	return n
}

func parseUntil(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeFeed emits the standard feed envelope with cursor pagination and an
// ETag for conditional requests.
func (s *Server) writeFeed(w http.ResponseWriter, r *http.Request, feed []*types.VideoEvent, limit int) {
	resp := FeedResponse{
		Videos: feed,
		Meta:   newMeta(),
	}
	if feed == nil {
		resp.Videos = []*types.VideoEvent{}
	}

	if len(feed) > 0 {
		lastCreatedAt := feed[len(feed)-1].CreatedAt
		resp.Page.Until = &lastCreatedAt
		nextURL := r.URL.Path +
			"?until=" + strconv.FormatInt(lastCreatedAt, 10) +
			"&limit=" + strconv.Itoa(limit)
		resp.Page.Next = &nextURL
	}

	etag := generateETag(feed)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Cache-Control", "max-age=5")
	util.WriteJSON(w, http.StatusOK, resp)
}

func generateETag(feed []*types.VideoEvent) string {
	if len(feed) == 0 {
		return `"empty"`
	}
	data := fmt.Sprintf("%s:%s:%d", feed[0].ID, feed[len(feed)-1].ID, len(feed))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf(`"%x"`, hash[:8])
}

// newFeedHandler serves the global firehose: GET /feeds/new?limit&until
func (s *Server) newFeedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}

	q := r.URL.Query()
	limit := s.parseLimit(q.Get("limit"))
	until := parseUntil(q.Get("until"))

	feed, err := fetchNewShared(r.Context(), s.repo, limit, until)
	if err != nil {
		LoggerFromContext(r.Context()).Error("new feed fetch failed", "error", err)
		util.RespondInternalError(w, "internal error")
		return
	}
	s.writeFeed(w, r, feed, limit)
}

// homeFeedHandler serves the personalized feed.
// GET /feeds/home?authors=pk1,pk2&limit&until for a plain following feed;
// POST with a JSON body to include curated-list references.
func (s *Server) homeFeedHandler(w http.ResponseWriter, r *http.Request) {
	var req homeFeedRequest

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Authors = parseStringList(q.Get("authors"))
		req.Limit = s.parseLimit(q.Get("limit"))
		req.Until = parseUntil(q.Get("until"))
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			util.RespondBadRequest(w, "invalid request body")
			return
		}
		if req.Limit <= 0 || req.Limit > 200 {
			req.Limit = s.cfg.DefaultFeedLimit
		}
	default:
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}

	result, err := s.repo.GetHomeFeedVideos(r.Context(), req.Authors, req.Limit, req.Until, req.VideoRefs)
	if err != nil {
		LoggerFromContext(r.Context()).Error("home feed fetch failed", "error", err)
		util.RespondInternalError(w, "internal error")
		return
	}

	resp := HomeFeedResponse{
		Videos:           result.Videos,
		VideoListSources: result.VideoListSources,
		Meta:             newMeta(),
	}
	for id := range result.ListOnlyVideoIDs {
		resp.ListOnlyVideoIDs = append(resp.ListOnlyVideoIDs, id)
	}
	if len(result.Videos) > 0 {
		lastCreatedAt := result.Videos[len(result.Videos)-1].CreatedAt
		resp.Page.Until = &lastCreatedAt
	}

	util.WriteJSON(w, http.StatusOK, resp)
}

// popularFeedHandler serves the engagement-ranked feed: GET /feeds/popular
func (s *Server) popularFeedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}

	q := r.URL.Query()
	limit := s.parseLimit(q.Get("limit"))
	until := parseUntil(q.Get("until"))

	feed, err := fetchPopularShared(r.Context(), s.repo, limit, until)
	if err != nil {
		LoggerFromContext(r.Context()).Error("popular feed fetch failed", "error", err)
		util.RespondInternalError(w, "internal error")
		return
	}
	s.writeFeed(w, r, feed, limit)
}

// profileFeedHandler serves one author's videos: GET /feeds/profile/{pubkey}
func (s *Server) profileFeedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}

	pubkey := strings.TrimPrefix(r.URL.Path, "/feeds/profile/")
	if pubkey == "" {
		util.RespondBadRequest(w, "pubkey required")
		return
	}

	q := r.URL.Query()
	limit := 0 // engine applies its own profile default
	if q.Get("limit") != "" {
		limit = s.parseLimit(q.Get("limit"))
	}
	until := parseUntil(q.Get("until"))

	feed, err := s.repo.GetProfileVideos(r.Context(), pubkey, limit, until)
	if err != nil {
		LoggerFromContext(r.Context()).Error("profile feed fetch failed", "error", err)
		util.RespondInternalError(w, "internal error")
		return
	}
	s.writeFeed(w, r, feed, limit)
}

// collabFeedHandler serves videos tagging a pubkey: GET /feeds/collab/{pubkey}
func (s *Server) collabFeedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}

	pubkey := strings.TrimPrefix(r.URL.Path, "/feeds/collab/")
	if pubkey == "" {
		util.RespondBadRequest(w, "pubkey required")
		return
	}

	q := r.URL.Query()
	limit := s.parseLimit(q.Get("limit"))
	until := parseUntil(q.Get("until"))

	feed, err := s.repo.GetCollabVideos(r.Context(), pubkey, limit, until)
	if err != nil {
		LoggerFromContext(r.Context()).Error("collab feed fetch failed", "error", err)
		util.RespondInternalError(w, "internal error")
		return
	}
	s.writeFeed(w, r, feed, limit)
}

// loopsFeedHandler serves the loop-count ranking: GET /feeds/loops
func (s *Server) loopsFeedHandler(w http.ResponseWriter, r *http.Request) {
	s.restOnlyFeed(w, r, func(limit int, until int64) ([]*types.VideoEvent, error) {
		return s.repo.GetVideosByLoops(r.Context(), limit, until)
	})
}

// classicsFeedHandler serves the archived classics: GET /feeds/classics
func (s *Server) classicsFeedHandler(w http.ResponseWriter, r *http.Request) {
	s.restOnlyFeed(w, r, func(limit int, until int64) ([]*types.VideoEvent, error) {
		return s.repo.GetClassicVines(r.Context(), limit, until)
	})
}

// hashtagFeedHandler serves videos by hashtag: GET /feeds/hashtag/{tag}.
// ?classic=1 switches to the archived classic corpus.
func (s *Server) hashtagFeedHandler(w http.ResponseWriter, r *http.Request) {
	hashtag := strings.TrimPrefix(r.URL.Path, "/feeds/hashtag/")
	if hashtag == "" {
		util.RespondBadRequest(w, "hashtag required")
		return
	}
	classic := r.URL.Query().Get("classic") == "1"

	s.restOnlyFeed(w, r, func(limit int, until int64) ([]*types.VideoEvent, error) {
		if classic {
			return s.repo.GetClassicVideosByHashtag(r.Context(), hashtag, limit, until)
		}
		return s.repo.GetVideosByHashtag(r.Context(), hashtag, limit, until)
	})
}

// searchHandler serves full-text search: GET /search?q=
func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		util.RespondBadRequest(w, "query required")
		return
	}

	s.restOnlyFeed(w, r, func(limit int, until int64) ([]*types.VideoEvent, error) {
		return s.repo.SearchVideos(r.Context(), query, limit, until)
	})
}

// recommendationsHandler serves personalized picks: GET /recommendations/{pubkey}
func (s *Server) recommendationsHandler(w http.ResponseWriter, r *http.Request) {
	pubkey := strings.TrimPrefix(r.URL.Path, "/recommendations/")
	if pubkey == "" {
		util.RespondBadRequest(w, "pubkey required")
		return
	}

	s.restOnlyFeed(w, r, func(limit int, _ int64) ([]*types.VideoEvent, error) {
		return s.repo.GetRecommendations(r.Context(), pubkey, limit)
	})
}

// restOnlyFeed is the shared shape of accelerator-backed endpoints: a missing
// or backing-off accelerator yields 503 rather than an empty feed, so callers
// can distinguish "nothing matched" from "capability offline".
func (s *Server) restOnlyFeed(w http.ResponseWriter, r *http.Request, fetch func(limit int, until int64) ([]*types.VideoEvent, error)) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}
	if !s.funnelcake.IsAvailable() {
		util.RespondServiceUnavailable(w, "accelerator unavailable")
		return
	}

	q := r.URL.Query()
	limit := s.parseLimit(q.Get("limit"))
	until := parseUntil(q.Get("until"))

	feed, err := fetch(limit, until)
	if err != nil {
		LoggerFromContext(r.Context()).Error("accelerator feed fetch failed", "path", r.URL.Path, "error", err)
		util.RespondServiceUnavailable(w, "accelerator unavailable")
		return
	}
	s.writeFeed(w, r, feed, limit)
}

// videosByIDsHandler resolves event IDs: GET /videos?ids=a,b,c&cache=0&save=1
func (s *Server) videosByIDsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}

	q := r.URL.Query()
	ids := parseStringList(q.Get("ids"))
	if len(ids) == 0 {
		util.RespondBadRequest(w, "ids required")
		return
	}

	useCache := q.Get("cache") != "0"
	saveToCache := q.Get("save") == "1"

	feed, err := s.repo.GetVideosByIDs(r.Context(), ids, useCache, saveToCache)
	if err != nil {
		LoggerFromContext(r.Context()).Error("videos by ids fetch failed", "error", err)
		util.RespondInternalError(w, "internal error")
		return
	}
	s.writeFeed(w, r, feed, len(ids))
}

// addressableVideosHandler resolves coordinates:
// GET /videos/addressable?ids=34236:pk:d1,34236:pk:d2
func (s *Server) addressableVideosHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}

	ids := parseStringList(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		util.RespondBadRequest(w, "ids required")
		return
	}

	feed, err := s.repo.GetVideosByAddressableIDs(r.Context(), ids)
	if err != nil {
		LoggerFromContext(r.Context()).Error("addressable videos fetch failed", "error", err)
		util.RespondInternalError(w, "internal error")
		return
	}
	s.writeFeed(w, r, feed, len(ids))
}

type listVideosRequest struct {
	Refs []string `json:"refs"`
}

// listVideosHandler resolves a mixed reference list: POST /videos/list
func (s *Server) listVideosHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}

	var req listVideosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.RespondBadRequest(w, "invalid request body")
		return
	}
	if len(req.Refs) == 0 {
		util.RespondBadRequest(w, "refs required")
		return
	}

	feed, err := s.repo.GetVideosForList(r.Context(), req.Refs)
	if err != nil {
		LoggerFromContext(r.Context()).Error("list videos fetch failed", "error", err)
		util.RespondInternalError(w, "internal error")
		return
	}
	s.writeFeed(w, r, feed, len(req.Refs))
}

// videoHandler routes /videos/{id}/stats and /videos/{id}/views.
func (s *Server) videoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		util.RespondMethodNotAllowed(w, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/videos/")
	id, sub, found := strings.Cut(rest, "/")
	if !found || id == "" {
		util.RespondNotFound(w, "not found")
		return
	}

	if !s.funnelcake.IsAvailable() {
		util.RespondServiceUnavailable(w, "accelerator unavailable")
		return
	}

	switch sub {
	case "stats":
		// Coalesced with concurrent single-stat lookups into one bulk call.
		stats := s.statsBatcher.Get(id)
		if stats == nil {
			util.RespondNotFound(w, "not found")
			return
		}
		util.WriteJSON(w, http.StatusOK, stats)
	case "views":
		views, err := s.repo.GetVideoViews(r.Context(), id)
		if err != nil {
			LoggerFromContext(r.Context()).Error("video views fetch failed", "event_id", id, "error", err)
			util.RespondServiceUnavailable(w, "accelerator unavailable")
			return
		}
		util.WriteJSON(w, http.StatusOK, map[string]int64{"views": views})
	default:
		util.RespondNotFound(w, "not found")
	}
}

// healthHandler reports process health and collaborator status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "ok",
		"cache_backend":        s.cacheBackendType,
		"funnelcake_available": s.funnelcake.IsAvailable(),
		"uptime_seconds":       int64(time.Since(s.startTime).Seconds()),
	})
}
