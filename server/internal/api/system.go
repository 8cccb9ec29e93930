package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/areawatch/areawatch/server/internal/activity"
	"github.com/areawatch/areawatch/server/internal/cameras"
	"github.com/areawatch/areawatch/server/internal/health"
	"github.com/areawatch/areawatch/server/internal/users"
)

const (
	defaultSnapshotLimit = 100
	defaultFeedLimit     = 50
	defaultActivityLimit = 100
)

// --- snapshots ----------------------------------------------------------------

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultSnapshotLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	list, err := h.Snapshots.List(limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	now := h.now()
	views := make([]SnapshotView, 0, len(list))
	for _, s := range list {
		views = append(views, SnapshotView{
			Snapshot:  s,
			SizeHuman: humanize.Bytes(uint64(s.Size)),
			Age:       humanize.RelTime(s.Modified, now, "ago", "from now"),
		})
	}
	jsonResp(w, http.StatusOK, map[string]any{"snapshots": views, "count": len(views)})
}

func (h *Handler) snapshotCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Snapshots.Count()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	p, err := h.Snapshots.Path(mux.Vars(r)["name"])
	if err != nil {
		writeErr(w, r, err)
		return
	}
	http.ServeFile(w, r, p)
}

func (h *Handler) thumbnail(w http.ResponseWriter, r *http.Request) {
	width, err := queryInt(r, "width", 0)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	img, err := h.Snapshots.Thumbnail(mux.Vars(r)["name"], width)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Write(img) //nolint:errcheck
}

func (h *Handler) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.Snapshots.Delete(name); err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, success(fmt.Sprintf("Snapshot '%s' deleted", name), nil))
}

// --- activity -----------------------------------------------------------------

// activityFeed applies the limit before the event_type filter.
func (h *Handler) activityFeed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultFeedLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	events := h.Activity.Feed(limit, r.URL.Query().Get("event_type"))
	jsonResp(w, http.StatusOK, ActivityFeedResponse{
		Events:         events,
		TotalCount:     h.Activity.Total(),
		DisplayedCount: len(events),
	})
}

// syncActivity rebuilds the feed from the log and the user activity table.
func (h *Handler) syncActivity(w http.ResponseWriter, r *http.Request) {
	logged, _, err := h.Users.Activity(r.Context(), activity.SyncUserEntries, "", "")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	entries := make([]activity.UserEntry, 0, len(logged))
	for _, a := range logged {
		entries = append(entries, activity.UserEntry{
			Timestamp: a.Timestamp,
			User:      a.User,
			Action:    a.Action,
			Details:   a.Details,
			Status:    a.Status,
		})
	}
	n := h.Activity.Sync(h.Store.All(), entries)
	jsonResp(w, http.StatusOK, success(
		fmt.Sprintf("Activity feed synced successfully with %d events", n),
		map[string]any{"total_events": n},
	))
}

func (h *Handler) detectionActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRecentLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var events []DetectionEvent
	if limit > 0 {
		for i, d := range h.Store.Latest(limit) {
			events = append(events, DetectionEvent{
				ID:          strconv.Itoa(i + 1),
				Timestamp:   d.Timestamp.Format("2006-01-02 15:04:05"),
				Type:        activity.TypeDetection,
				Class:       d.Class,
				Confidence:  d.ConfidencePct(),
				IsViolation: d.Violation,
				CameraID:    d.CameraID,
			})
		}
	}
	if events == nil {
		events = []DetectionEvent{}
	}
	jsonResp(w, http.StatusOK, ActivityFeedResponse{
		Events:         events,
		TotalCount:     h.Store.Len(),
		DisplayedCount: len(events),
	})
}

// --- health -------------------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now(),
		"services":  health.Services(h.Mailer.PublicConfig().Enabled, h.Scheduler.Running()),
	})
}

func (h *Handler) healthDetailed(w http.ResponseWriter, r *http.Request) {
	d, err := h.Health.Detailed(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, d)
}

// cameraHealth lists every camera with its status and diagnostic hints.
func (h *Handler) cameraHealth(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	list := h.Cameras.List()
	resp := CameraHealthResponse{Cameras: make([]CameraStatus, 0, len(list)), Health: h.Cameras.Health()}
	for _, c := range list {
		resp.Cameras = append(resp.Cameras, CameraStatus{
			ID:          c.ID,
			Name:        c.Name,
			Location:    c.Location,
			Status:      c.Status,
			Enabled:     c.Enabled,
			LastActive:  c.LastActive,
			URL:         c.URL,
			HealthScore: c.HealthScore,
			Hints:       cameraHints(c, now),
		})
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) uptime(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.Health.Uptime())
}

// info describes the API and its endpoint groups, built from the router.
func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	groups := map[string][]string{}
	h.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error { //nolint:errcheck
		tpl, err := route.GetPathTemplate()
		if err != nil || !strings.HasPrefix(tpl, "/api/") {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		group, _, _ := strings.Cut(strings.TrimPrefix(tpl, "/api/"), "/")
		for _, m := range methods {
			groups[group] = append(groups[group], m+" "+tpl)
		}
		return nil
	})
	jsonResp(w, http.StatusOK, map[string]any{
		"name":        "AreaWatch Restricted Area Monitoring API",
		"version":     h.Version,
		"description": "Detection log, analytics, reporting and camera management",
		"endpoints":   groups,
		"websockets":  []string{"/ws", "/ws/data", "/ws/activity"},
	})
}

// --- cameras ------------------------------------------------------------------

func (h *Handler) listCameras(w http.ResponseWriter, r *http.Request) {
	list := h.Cameras.List()
	jsonResp(w, http.StatusOK, map[string]any{"cameras": list, "total_count": len(list)})
}

func (h *Handler) createCamera(w http.ResponseWriter, r *http.Request) {
	var cfg cameras.Config
	if err := decodeBody(r, &cfg, true); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := h.Cameras.Create(cfg)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusCreated, success(
		fmt.Sprintf("Camera '%s' added successfully", c.Name),
		map[string]any{"camera": c},
	))
}

func (h *Handler) getCamera(w http.ResponseWriter, r *http.Request) {
	c, err := h.Cameras.Get(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"camera": c})
}

func (h *Handler) updateCamera(w http.ResponseWriter, r *http.Request) {
	var cfg cameras.Config
	if err := decodeBody(r, &cfg, true); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := h.Cameras.Update(mux.Vars(r)["id"], cfg)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, success(
		fmt.Sprintf("Camera '%s' updated successfully", c.Name),
		map[string]any{"camera": c},
	))
}

func (h *Handler) deleteCamera(w http.ResponseWriter, r *http.Request) {
	c, err := h.Cameras.Delete(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, success(fmt.Sprintf("Camera '%s' deleted successfully", c.Name), nil))
}

// --- users and auth -----------------------------------------------------------

func (h *Handler) userActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultActivityLimit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	list, total, err := h.Users.Activity(r.Context(), limit, q.Get("user"), q.Get("action"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{
		"activities":      list,
		"total_count":     total,
		"displayed_count": len(list),
	})
}

// logUserActivity records a client-reported action. A missing ip_address is
// taken from the connection.
func (h *Handler) logUserActivity(w http.ResponseWriter, r *http.Request) {
	var a users.Activity
	if err := decodeBody(r, &a, true); err != nil {
		writeErr(w, r, err)
		return
	}
	if a.IPAddress == "" {
		a.IPAddress = clientIP(r)
	}
	logged, err := h.Users.LogActivity(r.Context(), a)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, success("Activity logged successfully", map[string]any{"activity": logged}))
}

func (h *Handler) userStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Users.Stats(r.Context(), h.now())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, st)
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Users.Sessions(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"active_sessions": len(list), "sessions": list})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	sess, err := h.Users.Login(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, AuthResponse{Success: true, Token: sess.Token, Username: sess.Username, Message: "Login successful"})
}

// logout takes the token from the body or the Authorization header. An unknown
// token still answers success.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body, false); err != nil {
		writeErr(w, r, err)
		return
	}
	token := body.Token
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	if token != "" {
		if _, err := h.Users.Logout(r.Context(), token, clientIP(r)); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	jsonResp(w, http.StatusOK, success("Logout successful", nil))
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeErr(w, r, err)
		return
	}
	sess, err := h.Users.Signup(r.Context(), req.Username, req.Password, req.Email, clientIP(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	jsonResp(w, http.StatusCreated, AuthResponse{Success: true, Token: sess.Token, Username: sess.Username, Message: "Account created successfully"})
}
