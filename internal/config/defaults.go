// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// STREAMING RELAY
// =============================================================================

// DefaultQuiescenceChars is the minimum growth (in characters) of the
// accumulated answer before a new snapshot is published as a message edit.
// This bounds edit frequency to roughly one edit per hundred new characters.
const DefaultQuiescenceChars = 100

// DefaultPublishDelay is the pause after each successful message edit,
// a backoff against the transport's own rate limiting.
const DefaultPublishDelay = 10 * time.Millisecond

// DefaultMaxMessageLen is the transport's maximum message body length.
const DefaultMaxMessageLen = 4096

// =============================================================================
// DIALOG
// =============================================================================

// DefaultNewDialogTimeout is the idle time after which a fresh message
// starts a new dialog instead of continuing the old one.
const DefaultNewDialogTimeout = 600 * time.Second

// DefaultModel is assigned to users who have not picked a model.
const DefaultModel = "gpt-3.5-turbo"

// DefaultSystemPrompt instructs the model to act as the medical assistant.
const DefaultSystemPrompt = "You are an advanced medical expert chatbot assistant. " +
	"Your primary goal is to assist users to the best of your ability with their medical, health and psychological needs. " +
	"Always ask clarifying questions before assisting the user, gather the information specific to their issue, " +
	"and then provide helpful information and a diagnosis based on your analysis of the patient's details. " +
	"Be detailed and thorough; use examples and evidence to support your points and justify your recommendations. " +
	"Always prioritize the needs and satisfaction of the patient. " +
	"If the user asks for help unrelated to medicine, health or your expertise as a medical assistant, " +
	"do not answer the question; advise them to use this service for medical needs only."

// =============================================================================
// TRANSPORT
// =============================================================================

// DefaultPollTimeout is the long-poll wait, in seconds, passed to getUpdates.
const DefaultPollTimeout = 30

// =============================================================================
// DASHBOARD
// =============================================================================

// DefaultDashboardAddr is where the usage dashboard listens. Loopback only;
// the dashboard has no authentication.
const DefaultDashboardAddr = "127.0.0.1:8844"
