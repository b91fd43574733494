package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/service"

	"github.com/gin-gonic/gin"
)

// PlanHandler serves plan approvals, plans and class signatures.
type PlanHandler struct {
	plans    service.PlanService
	resolver service.Resolver
}

func NewPlanHandler(plans service.PlanService, resolver service.Resolver) *PlanHandler {
	return &PlanHandler{plans: plans, resolver: resolver}
}

// --- Request/Response Structs ---

type PlanApprovalRequest struct {
	StudentName   string   `json:"studentName" binding:"required"`
	Age           int      `json:"age" binding:"required,gt=0"`
	GuardianName  string   `json:"guardianName" binding:"required"`
	GuardianPhone string   `json:"guardianPhone" binding:"required"`
	PlanType      int      `json:"planType" binding:"required,min=1,max=60"`
	Weekdays      []string `json:"weekdays" binding:"required,min=1,dive,weekday"`
	StartTime     string   `json:"startTime" binding:"required,hhmm"`
}

type SubmittedApprovalResponse struct {
	PendingID string               `json:"pendingId"`
	Status    domain.PendingStatus `json:"status"`
}

type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
}

type SignatureDecisionRequest struct {
	Decision  string `json:"decision" binding:"required"`
	PendingID string `json:"pendingId" binding:"required"`
}

type SignatureRequestedResponse struct {
	PendingID string       `json:"pendingId"`
	Plan      *domain.Plan `json:"plan"`
}

// --- Plan approvals ---

// SubmitPlanApproval parks a draft and asks the guardian to approve it.
func (h *PlanHandler) SubmitPlanApproval(c *gin.Context) {
	var req PlanApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	draft := domain.PlanDraft{
		StudentName:   req.StudentName,
		Age:           req.Age,
		GuardianName:  req.GuardianName,
		GuardianPhone: req.GuardianPhone,
		PlanType:      req.PlanType,
		Weekdays:      req.Weekdays,
		StartTime:     req.StartTime,
	}
	rec, err := h.plans.SubmitPlanApproval(c.Request.Context(), draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SubmittedApprovalResponse{PendingID: rec.ID, Status: rec.Status})
}

func (h *PlanHandler) GetPlanApproval(c *gin.Context) {
	rec, err := h.plans.GetPlanApproval(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DecidePlanApproval applies the guardian's answer to a plan approval.
func (h *PlanHandler) DecidePlanApproval(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}
	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		respondError(c, err)
		return
	}

	out, err := h.resolver.Resolve(c.Request.Context(), domain.KindPlanApproval, c.Param("id"), decision, domain.SourceHTTP)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Plans ---

// SearchPlan returns the best match for ?term= (student, guardian or phone).
func (h *PlanHandler) SearchPlan(c *gin.Context) {
	term := strings.TrimSpace(c.Query("term"))
	if term == "" {
		abortWithError(c, http.StatusBadRequest, "Query parameter 'term' is required")
		return
	}
	plan, err := h.plans.SearchPlan(c.Request.Context(), term)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *PlanHandler) ListPlans(c *gin.Context) {
	plans, err := h.plans.ListPlans(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if plans == nil {
		plans = []domain.Plan{}
	}
	c.JSON(http.StatusOK, plans)
}

func (h *PlanHandler) GetPlan(c *gin.Context) {
	plan, err := h.plans.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// ToggleClass flips the completed flag of one class.
func (h *PlanHandler) ToggleClass(c *gin.Context) {
	ordinal, ok := ordinalParam(c)
	if !ok {
		return
	}
	plan, err := h.plans.ToggleClass(c.Request.Context(), c.Param("id"), ordinal)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *PlanHandler) DeletePlan(c *gin.Context) {
	id := c.Param("id")
	if err := h.plans.DeletePlan(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// --- Class signatures ---

// RequestClassSignature asks the guardian to sign one class.
func (h *PlanHandler) RequestClassSignature(c *gin.Context) {
	ordinal, ok := ordinalParam(c)
	if !ok {
		return
	}
	rec, plan, err := h.plans.RequestClassSignature(c.Request.Context(), c.Param("id"), ordinal)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SignatureRequestedResponse{PendingID: rec.ID, Plan: plan})
}

// DecideClassSignature applies a signature decision. The pendingId in the
// body must still be the one the class is waiting on.
func (h *PlanHandler) DecideClassSignature(c *gin.Context) {
	ordinal, ok := ordinalParam(c)
	if !ok {
		return
	}
	var req SignatureDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}
	decision, err := domain.ParseDecision(req.Decision)
	if err != nil {
		respondError(c, err)
		return
	}

	expected := &domain.ClassRef{PlanID: c.Param("id"), Ordinal: ordinal}
	out, err := h.resolver.ResolveClassSignature(c.Request.Context(), req.PendingID, decision, expected, domain.SourceHTTP)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *PlanHandler) GetClassSignature(c *gin.Context) {
	detail, err := h.plans.GetClassSignature(c.Request.Context(), c.Param("pendingId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func ordinalParam(c *gin.Context) (int, bool) {
	ordinal, err := strconv.Atoi(c.Param("ordinal"))
	if err != nil || ordinal < 1 {
		abortWithError(c, http.StatusBadRequest, "Invalid class ordinal")
		return 0, false
	}
	return ordinal, true
}
