package service

import (
	"github.com/pkg/errors"

	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/models"
)

// QueuePolicy decides where an application goes once its first attempt is
// complete: AInspeccionar (queued for review or re-inspection) or EmitirCRT.
type QueuePolicy interface {
	FirstAttemptTarget(app *models.Application, result models.Result) models.ApplicationStatus
}

// QueuePolicyFunc adapts a function to QueuePolicy.
type QueuePolicyFunc func(app *models.Application, result models.Result) models.ApplicationStatus

func (f QueuePolicyFunc) FirstAttemptTarget(app *models.Application, result models.Result) models.ApplicationStatus {
	return f(app, result)
}

// ResultPolicy queues Condicional results and sends the rest to issuance.
var ResultPolicy = QueuePolicyFunc(func(_ *models.Application, result models.Result) models.ApplicationStatus {
	if result == models.ResultCondicional {
		return models.ApplicationStatusAInspeccionar
	}
	return models.ApplicationStatusEmitirCRT
})

// FixedPolicy always returns target.
func FixedPolicy(target models.ApplicationStatus) QueuePolicy {
	return QueuePolicyFunc(func(*models.Application, models.Result) models.ApplicationStatus {
		return target
	})
}

// PolicyFromConfig maps workflow.first_attempt_target to a policy.
func PolicyFromConfig(target string) (QueuePolicy, error) {
	switch target {
	case config.FirstAttemptAuto, "":
		return ResultPolicy, nil
	case config.FirstAttemptQueue:
		return FixedPolicy(models.ApplicationStatusAInspeccionar), nil
	case config.FirstAttemptEmit:
		return FixedPolicy(models.ApplicationStatusEmitirCRT), nil
	}
	return nil, errors.Errorf("unknown first attempt target %q", target)
}

// secondAttemptTarget ends a rejected re-inspection and sends the rest to issuance.
func secondAttemptTarget(result models.Result) models.ApplicationStatus {
	if result == models.ResultRechazado {
		return models.ApplicationStatusCompletado
	}
	return models.ApplicationStatusEmitirCRT
}
