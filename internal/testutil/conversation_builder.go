package testutil

import (
	"time"

	"github.com/Lina-go/backend-delfos-sub000/session"
)

// ConversationBuilder assembles a session.Conversation, optionally with a
// previous data answer for follow-up and visualization tests.
type ConversationBuilder struct {
	conv  session.Conversation
	clock time.Time
}

// NewConversationBuilder starts an empty conversation for userID.
func NewConversationBuilder(userID string) *ConversationBuilder {
	return &ConversationBuilder{
		conv:  session.Conversation{UserID: userID},
		clock: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (b *ConversationBuilder) turn(role, content, queryType string) *ConversationBuilder {
	b.clock = b.clock.Add(time.Second)
	b.conv.Turns = append(b.conv.Turns, session.Turn{
		Role:      role,
		Content:   content,
		QueryType: queryType,
		Timestamp: b.clock,
	})
	return b
}

// UserTurn appends a user message.
func (b *ConversationBuilder) UserTurn(content string) *ConversationBuilder {
	return b.turn(session.RoleUser, content, "")
}

// AssistantTurn appends an assistant answer of the given query type.
func (b *ConversationBuilder) AssistantTurn(content, queryType string) *ConversationBuilder {
	return b.turn(session.RoleAssistant, content, queryType)
}

// LastAnswer records the previous data answer.
func (b *ConversationBuilder) LastAnswer(query, sql string, columns []string, rows ...map[string]any) *ConversationBuilder {
	b.conv.LastQuery = query
	b.conv.LastSQL = sql
	b.conv.LastColumns = columns
	b.conv.LastRows = rows
	return b
}

// OutputKind sets the previous answer's chart kind and title.
func (b *ConversationBuilder) OutputKind(kind, title string) *ConversationBuilder {
	b.conv.LastOutputKind = kind
	b.conv.LastTitle = title
	return b
}

// Temporality sets the previous answer's temporality.
func (b *ConversationBuilder) Temporality(t string) *ConversationBuilder {
	b.conv.LastTemporality = t
	return b
}

// Tables sets the tables the previous answer read.
func (b *ConversationBuilder) Tables(tables ...string) *ConversationBuilder {
	b.conv.LastTables = tables
	return b
}

// Build returns a copy of the conversation.
func (b *ConversationBuilder) Build() *session.Conversation {
	return b.conv.Clone()
}
