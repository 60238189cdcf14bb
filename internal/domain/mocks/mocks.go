// Package mocks provides testify mocks of the domain ports.
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// MockSessionRepository mocks domain.SessionRepository.
type MockSessionRepository struct{ mock.Mock }

func (m *MockSessionRepository) Append(ctx domain.Context, rec domain.SessionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockSessionRepository) Get(ctx domain.Context, id string) (domain.SessionRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.SessionRecord), args.Error(1)
}

func (m *MockSessionRepository) List(ctx domain.Context, limit int, query string) ([]domain.SessionSummary, error) {
	args := m.Called(ctx, limit, query)
	out, _ := args.Get(0).([]domain.SessionSummary)
	return out, args.Error(1)
}

// MockFileRepository mocks domain.FileRepository.
type MockFileRepository struct{ mock.Mock }

func (m *MockFileRepository) Create(ctx domain.Context, f domain.FileRecord) (string, error) {
	args := m.Called(ctx, f)
	return args.String(0), args.Error(1)
}

func (m *MockFileRepository) Get(ctx domain.Context, id string) (domain.FileRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.FileRecord), args.Error(1)
}

func (m *MockFileRepository) List(ctx domain.Context) ([]domain.FileRecord, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]domain.FileRecord)
	return out, args.Error(1)
}

// MockAlertRuleRepository mocks domain.AlertRuleRepository.
type MockAlertRuleRepository struct{ mock.Mock }

func (m *MockAlertRuleRepository) List(ctx domain.Context) ([]domain.AlertRule, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]domain.AlertRule)
	return out, args.Error(1)
}

func (m *MockAlertRuleRepository) Upsert(ctx domain.Context, r domain.AlertRule) (string, error) {
	args := m.Called(ctx, r)
	return args.String(0), args.Error(1)
}

func (m *MockAlertRuleRepository) Delete(ctx domain.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// MockVectorStore mocks domain.VectorStore.
type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) Upsert(ctx domain.Context, chunks []domain.RagChunk) error {
	return m.Called(ctx, chunks).Error(0)
}

func (m *MockVectorStore) Search(ctx domain.Context, embedding []float32, topK int) ([]domain.RagMatch, error) {
	args := m.Called(ctx, embedding, topK)
	out, _ := args.Get(0).([]domain.RagMatch)
	return out, args.Error(1)
}

// MockChatModel mocks domain.ChatModel.
type MockChatModel struct{ mock.Mock }

func (m *MockChatModel) Chat(ctx domain.Context, req domain.ChatRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// MockEmbedder mocks domain.Embedder.
type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	out, _ := args.Get(0).([][]float32)
	return out, args.Error(1)
}

// MockTextExtractor mocks domain.TextExtractor.
type MockTextExtractor struct{ mock.Mock }

func (m *MockTextExtractor) Extract(ctx domain.Context, fileName string, data []byte) (string, error) {
	args := m.Called(ctx, fileName, data)
	return args.String(0), args.Error(1)
}

// MockAuditSink mocks domain.AuditSink.
type MockAuditSink struct{ mock.Mock }

func (m *MockAuditSink) Publish(ctx domain.Context, ev domain.AuditEvent) error {
	return m.Called(ctx, ev).Error(0)
}
