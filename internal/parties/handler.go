package parties

import (
	"net/http"

	"github.com/bananalabs-oss/pms/internal/auth"
	"github.com/bananalabs-oss/pms/internal/compos"
	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/bananalabs-oss/pms/internal/respond"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	parties *Store
	compos  *compos.Service
	log     *zap.Logger
}

func NewHandler(parties *Store, compoService *compos.Service, log *zap.Logger) *Handler {
	return &Handler{parties: parties, compos: compoService, log: log}
}

type entryResponse struct {
	models.Entry
	Filename string `json:"filename"`
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respond.BadRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// --- Public endpoints ---

func (h *Handler) ListParties(c *gin.Context) {
	parties, err := h.parties.List(c.Request.Context())
	if err != nil {
		respond.Error(c, h.log, "fetch_failed", err)
		return
	}
	c.JSON(http.StatusOK, parties)
}

func (h *Handler) GetActiveParty(c *gin.Context) {
	party, err := h.parties.Active(c.Request.Context())
	if err != nil {
		respond.Error(c, h.log, "fetch_failed", err)
		return
	}
	c.JSON(http.StatusOK, party)
}

// --- Staff endpoints ---

func (h *Handler) CreateParty(c *gin.Context) {
	var req CreatePartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "title is required")
		return
	}

	party, err := h.parties.Create(c.Request.Context(), auth.CallerFrom(c), req)
	if err != nil {
		respond.Error(c, h.log, "create_failed", err)
		return
	}
	c.JSON(http.StatusCreated, party)
}

func (h *Handler) ActivateParty(c *gin.Context) {
	partyID, ok := paramID(c, "partyId")
	if !ok {
		return
	}

	var req struct {
		DeactivateOthers bool `json:"deactivate_others"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "Invalid JSON")
			return
		}
	}

	party, err := h.parties.Activate(c.Request.Context(), auth.CallerFrom(c), partyID, req.DeactivateOthers)
	if err != nil {
		respond.Error(c, h.log, "activate_failed", err)
		return
	}
	c.JSON(http.StatusOK, party)
}

func (h *Handler) CreateCompo(c *gin.Context) {
	partyID, ok := paramID(c, "partyId")
	if !ok {
		return
	}

	var req compos.CreateCompoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "title and submission_deadline are required")
		return
	}

	compo, err := h.compos.Create(c.Request.Context(), auth.CallerFrom(c), partyID, req)
	if err != nil {
		respond.Error(c, h.log, "create_failed", err)
		return
	}
	c.JSON(http.StatusCreated, compo)
}

func (h *Handler) GetCompo(c *gin.Context) {
	compoID, ok := paramID(c, "compoId")
	if !ok {
		return
	}

	compo, err := h.compos.GetWithEntries(c.Request.Context(), compoID)
	if err != nil {
		respond.Error(c, h.log, "fetch_failed", err)
		return
	}
	c.JSON(http.StatusOK, compo)
}

func (h *Handler) AddEntry(c *gin.Context) {
	compoID, ok := paramID(c, "compoId")
	if !ok {
		return
	}

	var req compos.AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "title is required")
		return
	}

	entry, err := h.compos.AddEntry(c.Request.Context(), auth.CallerFrom(c), compoID, req)
	if err != nil {
		respond.Error(c, h.log, "create_failed", err)
		return
	}
	c.JSON(http.StatusCreated, entryResponse{Entry: *entry, Filename: entry.Filename()})
}
