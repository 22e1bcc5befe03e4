package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/crmjobs/internal/scheduler"
	"go.uber.org/zap"
)

// TriggerInvoiceJobs runs detached from the request so a dropped client cannot abort a batch.
func (s *Server) TriggerInvoiceJobs(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	s.respondTrigger(c, "invoice_jobs", s.trigger.TriggerInvoiceJobs(ctx))
}

func (s *Server) TriggerSignatureReminders(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	s.respondTrigger(c, "signature_reminders", s.trigger.TriggerSignatureJobs(ctx))
}

func (s *Server) respondTrigger(c *gin.Context, group string, result scheduler.TriggerResult) {
	if !result.Success {
		s.log.Warn("manual trigger failed", zap.String("group", group), zap.String("message", result.Message))
		c.JSON(http.StatusInternalServerError, result)
		return
	}
	s.log.Info("manual trigger completed", zap.String("group", group))
	c.JSON(http.StatusOK, result)
}
