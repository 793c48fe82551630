// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on ask spans and metrics.
const (
	AttrRequestID        = "ecomentor.request.id"
	AttrQueryLength      = "ecomentor.query.length"
	AttrMode             = "ecomentor.mode"
	AttrRolePath         = "ecomentor.roles"
	AttrRouterSource     = "ecomentor.router.source"
	AttrRouterConfidence = "ecomentor.router.confidence"

	AttrRole          = "ecomentor.role"
	AttrRoleOutcome   = "ecomentor.role.outcome"
	AttrDraftAttempts = "ecomentor.draft.attempts"
	AttrEvidenceCount = "ecomentor.evidence.count"
	AttrDegraded      = "ecomentor.degraded"

	AttrCardCount     = "ecomentor.cards.count"
	AttrSynthesized   = "ecomentor.synthesized"
	AttrAskOutcome    = "ecomentor.ask.outcome"
	AttrErrorCode     = "error.code"
	AttrLLMPurpose    = "gen_ai.request.purpose"
	AttrLLMAdapter    = "gen_ai.request.adapter"
	AttrLLMTokensUsed = "gen_ai.usage.total_tokens"
)

// RouteAttributes describes a routing decision.
func RouteAttributes(mode string, roles []string, source string, confidence float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrMode, mode),
		attribute.StringSlice(AttrRolePath, roles),
		attribute.String(AttrRouterSource, source),
		attribute.Float64(AttrRouterConfidence, confidence),
	}
}

// RoleAttributes describes one role execution.
func RoleAttributes(role, outcome string, attempts, evidence int, degraded bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRole, role),
		attribute.String(AttrRoleOutcome, outcome),
	}
	if attempts > 0 {
		attrs = append(attrs, attribute.Int(AttrDraftAttempts, attempts))
	}
	attrs = append(attrs, attribute.Int(AttrEvidenceCount, evidence))
	if degraded {
		attrs = append(attrs, attribute.Bool(AttrDegraded, true))
	}
	return attrs
}

// SynthesisAttributes describes the output of the synthesis step.
func SynthesisAttributes(cards int, synthesized bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrCardCount, cards),
		attribute.Bool(AttrSynthesized, synthesized),
	}
}

// LLMCallAttributes describes a generation call.
func LLMCallAttributes(purpose, adapter string, tokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrLLMPurpose, purpose)}
	if adapter != "" {
		attrs = append(attrs, attribute.String(AttrLLMAdapter, adapter))
	}
	if tokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensUsed, tokens))
	}
	return attrs
}
