// Signalpipe - Community Signal Enrichment Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalpipe

package classify

import (
	"time"
)

// BuiltinArtifacts returns compact keyword models for development and
// standalone deployments without externally trained artifacts. Production
// deployments replace these with trained models via the artifact store.
func BuiltinArtifacts() []*Artifact {
	trained := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	return []*Artifact{
		{
			Family:      FamilyProductArea,
			Version:     "builtin-1",
			Threshold:   0.4,
			LastTrained: trained,
			Labels: []LabelModel{
				{Label: "api", Terms: []WeightedTerm{
					{Term: "api", Weight: 1.2}, {Term: "endpoint", Weight: 1.0},
					{Term: "rest", Weight: 0.8}, {Term: "graphql", Weight: 0.9},
					{Term: "request", Weight: 0.5}, {Term: "response", Weight: 0.5},
					{Term: "webhook", Weight: 0.8},
				}, Bias: -0.4},
				{Label: "auth", Terms: []WeightedTerm{
					{Term: "login", Weight: 1.1}, {Term: "auth", Weight: 1.1},
					{Term: "token", Weight: 0.8}, {Term: "password", Weight: 0.9},
					{Term: "sso", Weight: 1.0}, {Term: "oauth", Weight: 1.0},
					{Term: "session", Weight: 0.6},
				}, Bias: -0.4},
				{Label: "billing", Terms: []WeightedTerm{
					{Term: "invoice", Weight: 1.2}, {Term: "billing", Weight: 1.2},
					{Term: "payment", Weight: 1.0}, {Term: "subscription", Weight: 0.9},
					{Term: "charge", Weight: 0.8}, {Term: "refund", Weight: 1.0},
				}, Bias: -0.4},
				{Label: "search", Terms: []WeightedTerm{
					{Term: "search", Weight: 1.2}, {Term: "index", Weight: 0.9},
					{Term: "query", Weight: 0.7}, {Term: "relevance", Weight: 0.9},
					{Term: "results", Weight: 0.5},
				}, Bias: -0.4},
				{Label: "performance", Terms: []WeightedTerm{
					{Term: "slow", Weight: 1.0}, {Term: "latency", Weight: 1.1},
					{Term: "timeout", Weight: 0.9}, {Term: "memory", Weight: 0.7},
					{Term: "cpu", Weight: 0.7}, {Term: "performance", Weight: 1.0},
				}, Bias: -0.4},
			},
		},
		{
			Family:      FamilyIntent,
			Version:     "builtin-1",
			Threshold:   0.4,
			LastTrained: trained,
			Labels: []LabelModel{
				{Label: "bug_report", Terms: []WeightedTerm{
					{Term: "error", Weight: 1.0}, {Term: "bug", Weight: 1.2},
					{Term: "broken", Weight: 1.0}, {Term: "fails", Weight: 0.9},
					{Term: "crash", Weight: 1.1}, {Term: "500", Weight: 0.9},
					{Term: "exception", Weight: 0.9}, {Term: "regression", Weight: 1.0},
				}, Bias: -0.3},
				{Label: "feature_request", Terms: []WeightedTerm{
					{Term: "feature", Weight: 1.0}, {Term: "request", Weight: 0.6},
					{Term: "support", Weight: 0.5}, {Term: "add", Weight: 0.5},
					{Term: "would", Weight: 0.4}, {Term: "wish", Weight: 0.8},
					{Term: "proposal", Weight: 0.9},
				}, Bias: -0.4},
				{Label: "question", Terms: []WeightedTerm{
					{Term: "how", Weight: 0.8}, {Term: "what", Weight: 0.6},
					{Term: "why", Weight: 0.6}, {Term: "question", Weight: 1.0},
					{Term: "help", Weight: 0.7}, {Term: "documentation", Weight: 0.6},
				}, Bias: -0.4},
				{Label: "churn_risk", Terms: []WeightedTerm{
					{Term: "cancel", Weight: 1.1}, {Term: "disappointed", Weight: 1.0},
					{Term: "alternative", Weight: 0.8}, {Term: "switching", Weight: 1.1},
					{Term: "competitor", Weight: 1.0},
				}, Bias: -0.5},
			},
		},
		{
			Family:      FamilyUrgency,
			Version:     "builtin-1",
			Threshold:   0.35,
			LastTrained: trained,
			Labels: []LabelModel{
				{Label: "critical", Terms: []WeightedTerm{
					{Term: "outage", Weight: 1.4}, {Term: "down", Weight: 1.0},
					{Term: "critical", Weight: 1.3}, {Term: "data", Weight: 0.5},
					{Term: "loss", Weight: 0.9}, {Term: "urgent", Weight: 1.2},
					{Term: "production", Weight: 0.8}, {Term: "security", Weight: 1.0},
				}, Bias: -0.5},
				{Label: "high", Terms: []WeightedTerm{
					{Term: "error", Weight: 0.9}, {Term: "500", Weight: 1.0},
					{Term: "fails", Weight: 0.9}, {Term: "broken", Weight: 0.9},
					{Term: "blocked", Weight: 1.0}, {Term: "crash", Weight: 1.0},
					{Term: "cannot", Weight: 0.7},
				}, Bias: -0.4},
				{Label: "medium", Terms: []WeightedTerm{
					{Term: "slow", Weight: 0.8}, {Term: "sometimes", Weight: 0.6},
					{Term: "intermittent", Weight: 0.8}, {Term: "workaround", Weight: 0.7},
					{Term: "inconsistent", Weight: 0.7},
				}, Bias: -0.35},
				{Label: "low", Terms: []WeightedTerm{
					{Term: "minor", Weight: 0.9}, {Term: "typo", Weight: 1.0},
					{Term: "cosmetic", Weight: 1.0}, {Term: "suggestion", Weight: 0.8},
					{Term: "nit", Weight: 0.9},
				}, Bias: -0.3},
			},
		},
	}
}
