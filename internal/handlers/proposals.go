package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-messaging/internal/messaging"
	"marketplace-messaging/internal/middleware"
	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/observability"
	"marketplace-messaging/internal/repositories"
	"marketplace-messaging/internal/telemetry"
)

const proposalAcceptedRoutingKey = "notifications.proposal_accepted"

// ProposalHandler runs the admin's accept/reject decision on a proposal.
type ProposalHandler struct {
	proposals repositories.ProposalRepository
	notifier  telemetry.Publisher
	audit     *telemetry.AuditEmitter
}

// NewProposalHandler builds a ProposalHandler. notifier and audit may be nil.
func NewProposalHandler(proposals repositories.ProposalRepository, notifier telemetry.Publisher, audit *telemetry.AuditEmitter) *ProposalHandler {
	return &ProposalHandler{proposals: proposals, notifier: notifier, audit: audit}
}

// ProposalAccepted is published when a proposal turns into a contract.
type ProposalAccepted struct {
	ProposalID  string `json:"proposal_id"`
	ContractID  string `json:"contract_id"`
	JobID       string `json:"job_id"`
	JobTitle    string `json:"job_title"`
	ApplicantID string `json:"applicant_id"`
	AdminID     string `json:"admin_id"`
}

func (e ProposalAccepted) LogFields() string {
	return "proposal_id=" + e.ProposalID + " contract_id=" + e.ContractID + " applicant_id=" + e.ApplicantID
}

// AcceptanceMessage is the message the admin posts when accepting a proposal.
func AcceptanceMessage(jobTitle string) string {
	return `I accepted your proposal for "` + jobTitle + `"`
}

// DecideProposal accepts or rejects a pending proposal. Accepting opens a
// contract, posts the acceptance message to both conversations and returns the
// deep link of the new contract conversation.
func (h *ProposalHandler) DecideProposal(c *gin.Context) {
	viewer, ok := middleware.ViewerFromContext(c)
	if !ok || !viewer.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}

	var req struct {
		Decision models.NegotiationStatus `json:"decision" binding:"required,oneof=accepted rejected"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	n, err := h.proposals.GetNegotiation(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrProposalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "proposal not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load proposal"})
		return
	}
	if n.Status != models.NegotiationPending {
		c.JSON(http.StatusConflict, gin.H{"error": "proposal already decided", "status": n.Status})
		return
	}

	if err := h.proposals.UpdateStatus(ctx, id, req.Decision); err != nil {
		if errors.Is(err, repositories.ErrProposalDecided) {
			c.JSON(http.StatusConflict, gin.H{"error": "proposal already decided"})
			return
		}
		log.Printf("update proposal status proposal_id=%s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update proposal"})
		return
	}
	requestID := requestIDFromContext(c)
	if req.Decision == models.NegotiationRejected {
		h.audit.Emit(ctx, "info", "proposal rejected", requestID, viewer.ID, conversationFields(models.ConversationKey{Kind: models.KindNegotiation, ID: n.ID}, nil))
		c.JSON(http.StatusOK, gin.H{"status": models.NegotiationRejected})
		return
	}

	contract, err := h.proposals.CreateContract(ctx, n)
	if err != nil {
		log.Printf("create contract proposal_id=%s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create contract"})
		return
	}

	resp := gin.H{
		"status":   models.NegotiationAccepted,
		"contract": contract,
		"redirect": messaging.QueryFor(models.ConversationKey{Kind: models.KindContract, ID: contract.ID}),
	}
	if _, err := h.proposals.CreateLinkedMessage(ctx, n.ID, contract.ID, viewer.ID, AcceptanceMessage(n.JobTitle)); err != nil {
		log.Printf("acceptance message proposal_id=%s contract_id=%s: %v", id, contract.ID, err)
		resp["warning"] = "failed to post acceptance message"
	}

	if h.notifier != nil {
		event := ProposalAccepted{
			ProposalID:  n.ID,
			ContractID:  contract.ID,
			JobID:       n.JobID,
			JobTitle:    n.JobTitle,
			ApplicantID: n.ApplicantID,
			AdminID:     viewer.ID,
		}
		if err := h.notifier.Publish(ctx, proposalAcceptedRoutingKey, event); err != nil {
			observability.IncAMQPPublishError()
			log.Printf("publish %s proposal_id=%s: %v", proposalAcceptedRoutingKey, id, err)
		}
	}
	h.audit.Emit(ctx, "info", "proposal accepted", requestID, viewer.ID, conversationFields(
		models.ConversationKey{Kind: models.KindContract, ID: contract.ID},
		map[string]string{"proposal_id": id},
	))

	c.JSON(http.StatusOK, resp)
}
