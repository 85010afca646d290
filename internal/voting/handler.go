package voting

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bananalabs-oss/pms/internal/auth"
	"github.com/bananalabs-oss/pms/internal/compos"
	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/bananalabs-oss/pms/internal/ranking"
	"github.com/bananalabs-oss/pms/internal/respond"
	"github.com/bananalabs-oss/pms/internal/votekeys"
	"github.com/bananalabs-oss/pms/internal/votes"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	cookieMaxAge  = 7 * 24 * 60 * 60
	maxImportSize = 1 << 20
)

type Options struct {
	CookieSecure       bool
	LoginRatePerMinute float64
	LoginBurst         int
}

type Handler struct {
	keys    *votekeys.Store
	compos  *compos.Service
	ledger  *votes.Ledger
	signer  *auth.CookieSigner
	limiter *loginLimiter
	secure  bool
	log     *zap.Logger
}

func NewHandler(
	keys *votekeys.Store,
	compoService *compos.Service,
	ledger *votes.Ledger,
	signer *auth.CookieSigner,
	opts Options,
	log *zap.Logger,
) *Handler {
	return &Handler{
		keys:    keys,
		compos:  compoService,
		ledger:  ledger,
		signer:  signer,
		limiter: newLoginLimiter(opts.LoginRatePerMinute, opts.LoginBurst),
		secure:  opts.CookieSecure,
		log:     log,
	}
}

type BallotEntry struct {
	Entry models.Entry `json:"entry"`
	Vote  *models.Vote `json:"vote"`
}

type BallotResponse struct {
	Compo   *models.Compo `json:"compo"`
	Entries []BallotEntry `json:"entries"`
}

type StandingsResponse struct {
	Compo      *models.Compo       `json:"compo"`
	Placements []ranking.Placement `json:"placements"`
}

type AdvanceResponse struct {
	Success      bool   `json:"success"`
	CurrentEntry *int   `json:"current_entry,omitempty"`
	Error        string `json:"error,omitempty"`
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respond.BadRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.VoteKeyCookie, "", -1, "/", "", h.secure, true)
}

// --- Voter endpoints ---

func (h *Handler) Login(c *gin.Context) {
	partyID, ok := paramID(c, "partyId")
	if !ok {
		return
	}

	var req struct {
		Key string `json:"key" form:"votekey" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		respond.BadRequest(c, "key is required")
		return
	}

	if !h.limiter.Allow(c.ClientIP()) {
		h.log.Warn("vote key login throttled", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusTooManyRequests, models.ErrorResponse{
			Error:   "too_many_attempts",
			Message: "Too many attempts, please wait a moment",
		})
		return
	}

	vk, err := h.keys.Validate(c.Request.Context(), partyID, req.Key)
	if errors.Is(err, models.ErrUnauthenticated) {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "invalid_key",
			Message: "Invalid key, please go to the info desk to sort this issue out",
		})
		return
	}
	if err != nil {
		respond.Error(c, h.log, "login_failed", err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.VoteKeyCookie, h.signer.Sign(vk.PartyID, vk.Key), cookieMaxAge, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"party_id": vk.PartyID})
}

func (h *Handler) Logout(c *gin.Context) {
	h.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Ballot lists the entries votable now together with the caller's earlier
// votes, which pre-fill the voting form.
func (h *Handler) Ballot(c *gin.Context) {
	ctx := c.Request.Context()
	vk := voteKeyFrom(c)

	compoID, ok := paramID(c, "compoId")
	if !ok {
		return
	}

	compo, eligible, err := h.compos.EligibleEntries(ctx, compoID)
	if err != nil {
		respond.Error(c, h.log, "fetch_failed", err)
		return
	}
	if compo.PartyID != vk.PartyID {
		respond.Error(c, h.log, "fetch_failed", models.ErrUnauthenticated)
		return
	}

	ids := make([]uuid.UUID, len(eligible))
	for i, e := range eligible {
		ids[i] = e.ID
	}
	prior, err := h.ledger.VotesFor(ctx, vk.ID, ids)
	if err != nil {
		respond.Error(c, h.log, "fetch_failed", err)
		return
	}

	entries := make([]BallotEntry, len(eligible))
	for i, e := range eligible {
		entries[i] = BallotEntry{Entry: e}
		if v, ok := prior[e.ID]; ok {
			entries[i].Vote = &v
		}
	}

	c.JSON(http.StatusOK, BallotResponse{Compo: compo, Entries: entries})
}

func (h *Handler) CastVote(c *gin.Context) {
	var req struct {
		EntryID string `json:"entry_id" form:"entry" binding:"required"`
		Points  *int   `json:"points" form:"points" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		respond.BadRequest(c, "entry_id and points are required")
		return
	}
	entryID, err := uuid.Parse(req.EntryID)
	if err != nil {
		respond.BadRequest(c, "Invalid entry_id")
		return
	}

	vote, err := h.ledger.Cast(c.Request.Context(), voteKeyFrom(c), entryID, *req.Points)
	if err != nil {
		respond.Error(c, h.log, "vote_failed", err)
		return
	}
	c.JSON(http.StatusOK, vote)
}

// Results are sealed until the compo's voting has closed.
func (h *Handler) Results(c *gin.Context) {
	compoID, ok := paramID(c, "compoId")
	if !ok {
		return
	}

	compo, err := h.compos.Get(c.Request.Context(), compoID)
	if err != nil {
		respond.Error(c, h.log, "fetch_failed", err)
		return
	}
	if compo.VotingStatus != models.VotingClosed {
		c.JSON(http.StatusForbidden, models.ErrorResponse{
			Error:   "results_sealed",
			Message: "Results are hidden until voting has ended",
		})
		return
	}

	h.writeStandings(c, compoID)
}

// --- Staff endpoints ---

// AdvanceEntry is polled or pushed by the operator control surface to open
// entries for voting as they are shown.
func (h *Handler) AdvanceEntry(c *gin.Context) {
	caller := auth.CallerFrom(c)
	if !caller.Has(auth.CapStaff) {
		c.JSON(http.StatusForbidden, AdvanceResponse{Success: false, Error: "forbidden"})
		return
	}

	req, err := bindAdvance(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, AdvanceResponse{Success: false, Error: "invalid_request"})
		return
	}

	compo, err := h.compos.AdvanceCurrentEntry(c.Request.Context(), caller, req)
	switch {
	case err == nil:
		pos := compo.CurrentEntryPos
		c.JSON(http.StatusOK, AdvanceResponse{Success: true, CurrentEntry: &pos})
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, AdvanceResponse{Success: false, Error: err.Error()})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, AdvanceResponse{Success: false, Error: "forbidden"})
	default:
		h.log.Error("failed to advance entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, AdvanceResponse{Success: false, Error: "advance_failed"})
	}
}

// bindAdvance reads an advance request from JSON or a form post. A blank
// current_entry form field counts as absent so it never resets the cursor.
func bindAdvance(c *gin.Context) (compos.AdvanceRequest, error) {
	var req compos.AdvanceRequest
	if c.ContentType() == gin.MIMEJSON {
		err := c.ShouldBindJSON(&req)
		return req, err
	}

	req.CompoID = c.PostForm("compo_id")
	raw, _ := c.GetPostForm("current_entry")
	if raw = strings.TrimSpace(raw); raw != "" {
		pos, err := strconv.Atoi(raw)
		if err != nil {
			return req, fmt.Errorf("%w: current_entry must be an integer", models.ErrInvalidInput)
		}
		req.CurrentEntry = &pos
	}
	return req, nil
}

func (h *Handler) SetStatus(c *gin.Context) {
	compoID, ok := paramID(c, "compoId")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
		Force  bool   `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "status is required")
		return
	}
	status, err := models.ParseVotingStatus(req.Status)
	if err != nil {
		respond.Error(c, h.log, "status_failed", err)
		return
	}

	compo, err := h.compos.SetStatus(c.Request.Context(), auth.CallerFrom(c), compoID, status, req.Force)
	if err != nil {
		respond.Error(c, h.log, "status_failed", err)
		return
	}
	c.JSON(http.StatusOK, compo)
}

// Ranking is the live standing of a compo for staff screens, available in
// every voting phase.
func (h *Handler) Ranking(c *gin.Context) {
	if !auth.CallerFrom(c).Has(auth.CapStaff) {
		respond.Error(c, h.log, "fetch_failed", models.ErrForbidden)
		return
	}
	compoID, ok := paramID(c, "compoId")
	if !ok {
		return
	}
	h.writeStandings(c, compoID)
}

// ImportKeys accepts newline separated keys, either as a text body or as a
// JSON {"keys": [...]} document.
func (h *Handler) ImportKeys(c *gin.Context) {
	if !auth.CallerFrom(c).Has(auth.CapStaff) {
		respond.Error(c, h.log, "import_failed", models.ErrForbidden)
		return
	}
	partyID, ok := paramID(c, "partyId")
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportSize)

	var text string
	if c.ContentType() == gin.MIMEJSON {
		var req struct {
			Keys []string `json:"keys" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			h.rejectImportBody(c, err, "keys is required")
			return
		}
		text = strings.Join(req.Keys, "\n")
	} else {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			h.rejectImportBody(c, err, "Failed to read keys")
			return
		}
		text = string(body)
	}

	result, err := h.keys.BulkImport(c.Request.Context(), partyID, text)
	if err != nil {
		respond.Error(c, h.log, "import_failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// rejectImportBody refuses the whole import. An oversized body is never
// imported in part since its last line would be a truncated key.
func (h *Handler) rejectImportBody(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.log.Warn("vote key import too large", zap.Int64("limit", tooLarge.Limit))
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
			Error:   "import_too_large",
			Message: fmt.Sprintf("Key import is limited to %d bytes", tooLarge.Limit),
		})
		return
	}
	respond.BadRequest(c, msg)
}

func (h *Handler) writeStandings(c *gin.Context, compoID uuid.UUID) {
	compo, placements, err := h.ledger.Standings(c.Request.Context(), compoID)
	if err != nil {
		respond.Error(c, h.log, "fetch_failed", err)
		return
	}
	c.JSON(http.StatusOK, StandingsResponse{Compo: compo, Placements: placements})
}
