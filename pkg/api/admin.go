package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"inkwell/pkg/mailer"
	"inkwell/pkg/models"
	"inkwell/pkg/posts"
	"inkwell/pkg/store"
	"inkwell/pkg/utils"
	"inkwell/pkg/workflow"
)

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// adminListPosts handles GET /v1/admin/posts and returns every post
// regardless of status.
func (a *API) adminListPosts(w http.ResponseWriter, r *http.Request) {
	all, err := a.posts.ListAll(r.Context())
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "list posts failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"posts": all})
}

func (a *API) adminCreatePost(w http.ResponseWriter, r *http.Request) {
	var p models.Post
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.Title == "" {
		utils.JSONError(w, http.StatusBadRequest, "title required")
		return
	}
	if p.Status == "" {
		p.Status = models.StatusDraft
	}
	saved, err := a.sync.Create(r.Context(), p)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, saved)
}

func (a *API) adminGetPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	p, err := a.posts.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "post not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, "load post failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, p)
}

// adminUpdatePost handles PUT /v1/admin/posts/{id}. Pass
// ?override_published_at=true to rewrite the stored publish time from
// the request body.
func (a *API) adminUpdatePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	var p models.Post
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	p.ID = id
	override := r.URL.Query().Get("override_published_at") == "true"
	saved, err := a.sync.Update(r.Context(), p, override)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "post not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, saved)
}

func (a *API) adminDeletePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	if err := a.sync.Delete(r.Context(), id); err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "post not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type announceRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
}

// adminAnnouncePost handles POST /v1/admin/posts/{id}/announce and
// mails a link to the post.
func (a *API) adminAnnouncePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	var req announceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		utils.JSONError(w, http.StatusBadRequest, "recipient required")
		return
	}
	p, err := a.posts.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "post not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, "load post failed")
		return
	}
	subject := req.Subject
	if subject == "" {
		subject = "New post: " + p.Title
	}
	link := fmt.Sprintf("%s/post/%s", a.cfg.Server.BaseURL, p.Slug)
	html := fmt.Sprintf("<p>%s</p><p><a href=%q>%s</a></p>", p.Summary, link, p.Title)
	if err := a.mail.Send(r.Context(), mailer.Message{To: req.To, Subject: subject, HTML: html}); err != nil {
		utils.JSONError(w, http.StatusBadGateway, "mail delivery failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "sent"})
}

// adminRebuildIndex handles POST /v1/admin/search/rebuild.
func (a *API) adminRebuildIndex(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.Rebuild(r.Context())
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, res)
}

// adminGetWorkflowRun handles GET /v1/admin/workflows/{id}.
func (a *API) adminGetWorkflowRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.runner.GetRun(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, workflow.ErrRunNotFound) {
			utils.JSONError(w, http.StatusNotFound, "run not found")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, "load run failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, run)
}

type statsResponse struct {
	Store store.Stats `json:"store"`
	Queue struct {
		Len     int    `json:"len"`
		Cap     int    `json:"cap"`
		Dropped uint64 `json:"dropped"`
	} `json:"queue"`
	IndexDocs int `json:"index_docs"`
}

// adminStats handles GET /v1/admin/stats.
func (a *API) adminStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	resp.Store = store.GetStats()
	q := a.runner.Queue()
	resp.Queue.Len = q.Len()
	resp.Queue.Cap = q.Cap()
	resp.Queue.Dropped = q.Dropped()
	if n, err := a.engine.Count(r.Context()); err == nil {
		resp.IndexDocs = n
	}
	_ = utils.JSONWrite(w, http.StatusOK, resp)
}
