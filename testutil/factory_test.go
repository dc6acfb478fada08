package testutil_test

import (
	"testing"

	"github.com/dan-strohschein/querykit/testutil"
)

func TestUserFactory_Build(t *testing.T) {
	user := testutil.NewUserFactory().Build()

	requiredFields := []string{"email", "username", "name", "age", "active"}
	for _, field := range requiredFields {
		if _, ok := user[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}

	if user["active"] != true {
		t.Errorf("expected active=true, got %v", user["active"])
	}
	if _, ok := user["email"].(string); !ok {
		t.Errorf("expected lazy email to be resolved, got %T", user["email"])
	}
}

func TestUserFactory_BuildWithOptions(t *testing.T) {
	user := testutil.NewUserFactory().Build(
		testutil.WithField("name", "Custom Name"),
		testutil.WithoutField("age"),
	)

	if user["name"] != "Custom Name" {
		t.Errorf("expected name='Custom Name', got %v", user["name"])
	}
	if _, ok := user["age"]; ok {
		t.Error("expected age to be removed")
	}
}

func TestUserFactory_BuildList(t *testing.T) {
	users := testutil.BuildUsers(5)
	if len(users) != 5 {
		t.Fatalf("expected 5 users, got %d", len(users))
	}

	seen := make(map[interface{}]bool)
	for _, u := range users {
		if seen[u["email"]] {
			t.Errorf("duplicate email %v", u["email"])
		}
		seen[u["email"]] = true
	}
}

func TestRandomInt(t *testing.T) {
	for i := 0; i < 100; i++ {
		n := testutil.RandomInt(3, 5)
		if n < 3 || n > 5 {
			t.Fatalf("RandomInt out of range: %d", n)
		}
	}
}
