package store

// Event types written to the run_events log.
const (
	EventRunStart            = "run_start"
	EventPhaseStart          = "phase_start"
	EventPhaseResume         = "phase_resume"
	EventAgentInvoke         = "agent_invoke"
	EventQualityGate         = "quality_gate"
	EventVerdict             = "verdict"
	EventEscalation          = "escalation"
	EventHumanDecision       = "human_decision"
	EventPhaseComplete       = "phase_complete"
	EventPhaseForceApproved  = "phase_force_approved"
	EventAutoStartFresh      = "auto_start_fresh"
	EventAutoEscalationAbort = "auto_escalation_abort"
	EventRunComplete         = "run_complete"
	EventRunAbort            = "run_abort"
)
