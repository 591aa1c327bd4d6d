package services

import (
	"strings"

	"github.com/ekaya-inc/ekaya-suggest/pkg/models"
	"github.com/ekaya-inc/ekaya-suggest/pkg/preview"
)

// ClassifyRisk grades a suggestion and lists why it needs review.
// target is the current record the suggestion resolves to, or nil.
func ClassifyRisk(actor models.ActorType, op models.Operation, patch *models.Patch, target *preview.Target) (models.RiskLevel, []string) {
	risk := models.RiskLow
	var reasons []string
	raise := func(level models.RiskLevel, reason string) {
		reasons = append(reasons, reason)
		if rank(level) > rank(risk) {
			risk = level
		}
	}

	if actor != models.ActorUser {
		reasons = append(reasons, models.ReasonAgentInitiated)
	}

	switch op.TargetType() {
	case models.TargetEntity:
		if op.IsDelete() {
			raise(models.RiskHigh, models.ReasonDestructiveOperation)
		} else if op == models.OpEntityUpdate {
			raise(models.RiskLow, models.ReasonModifiesExistingRecord)
		}
		if isCoreEntity(op, patch, target) {
			raise(models.RiskCore, models.ReasonCoreEntity)
		}

	case models.TargetRelationship:
		if op.IsDelete() {
			raise(models.RiskHigh, models.ReasonDestructiveOperation)
		}
		if !op.IsCreate() {
			raise(models.RiskLow, models.ReasonRelationshipRewire)
		}

	case models.TargetMemory:
		raise(models.RiskLow, models.ReasonLongTermMemory)
		if patch.Memory != nil && patch.Memory.MemoryID != nil {
			raise(models.RiskLow, models.ReasonModifiesExistingRecord)
		}

	case models.TargetDocument:
		raise(models.RiskLow, models.ReasonDocumentWrite)
		if op == models.OpReplaceSelection && target != nil && target.Document != nil && patch.Document != nil &&
			strings.TrimSpace(patch.Document.SelectionText) == strings.TrimSpace(target.Document.Content) {
			raise(models.RiskHigh, models.ReasonWholeDocumentReplace)
		}
	}

	return risk, reasons
}

func isCoreEntity(op models.Operation, patch *models.Patch, target *preview.Target) bool {
	if op == models.OpEntityCreate {
		return patch.Entity != nil && patch.Entity.Set.Kind != nil &&
			strings.EqualFold(*patch.Entity.Set.Kind, models.EntityKindCore)
	}
	return target != nil && target.Entity != nil && strings.EqualFold(target.Entity.Kind, models.EntityKindCore)
}

func rank(r models.RiskLevel) int {
	switch r {
	case models.RiskCore:
		return 2
	case models.RiskHigh:
		return 1
	default:
		return 0
	}
}
