package store_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/weavel-fastllm/fastllm/store"
	"github.com/weavel-fastllm/fastllm/store/testutil"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(testutil.SetupTestDB(t), nil)
}

func createTestModule(t *testing.T, s *store.Store, name string) *store.Module {
	t.Helper()
	m := &store.Module{
		ID:                uuid.NewString(),
		Name:              name,
		UsedInLocalSource: true,
	}
	if err := s.CreateModule(m); err != nil {
		t.Fatalf("CreateModule(%s) error: %v", name, err)
	}
	return m
}

func createTestVersion(t *testing.T, s *store.Store, moduleID string, status store.VersionStatus) *store.Version {
	t.Helper()
	v := &store.Version{
		ID:       uuid.NewString(),
		ModuleID: moduleID,
		Status:   status,
		Model:    "gpt-4o-mini",
	}
	if err := s.CreateVersion(v); err != nil {
		t.Fatalf("CreateVersion error: %v", err)
	}
	return v
}
