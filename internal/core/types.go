package core

import "secretsanta/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Event              = domain.Event
	Participant        = domain.Participant
	GiftSubmission     = domain.GiftSubmission
	Message            = domain.Message
	ArchiveRecord      = domain.ArchiveRecord
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityEvent         = domain.EntityEvent
	EntityParticipant   = domain.EntityParticipant
	EntityAssignment    = domain.EntityAssignment
	EntityGift          = domain.EntityGift
	EntityCommunication = domain.EntityCommunication
	EntityWishlist      = domain.EntityWishlist
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
