package main

import (
	"reflect"
	"testing"

	"vinefeed-server/internal/types"
)

func TestBuildReqFilterMapsAllFields(t *testing.T) {
	since := int64(100)
	until := int64(200)
	filter := types.Filter{
		IDs:     []string{"ev1"},
		Authors: []string{"pk1"},
		Kinds:   []int{22, 34236},
		Limit:   20,
		Since:   &since,
		Until:   &until,
		PTags:   []string{"pk2"},
		ATags:   []string{"34236:pk1:d1"},
		DTags:   []string{"d1"},
		TTags:   []string{"comedy"},
		Search:  "sort:hot",
	}

	req := buildReqFilter(filter)

	want := map[string]interface{}{
		"ids":     []string{"ev1"},
		"authors": []string{"pk1"},
		"kinds":   []int{22, 34236},
		"limit":   20,
		"since":   int64(100),
		"until":   int64(200),
		"#p":      []string{"pk2"},
		"#a":      []string{"34236:pk1:d1"},
		"#d":      []string{"d1"},
		"#t":      []string{"comedy"},
		"search":  "sort:hot",
	}
	if !reflect.DeepEqual(req, want) {
		t.Errorf("buildReqFilter = %#v, want %#v", req, want)
	}
}

func TestBuildReqFilterOmitsEmptyFields(t *testing.T) {
	req := buildReqFilter(types.Filter{Kinds: []int{22}})
	if len(req) != 1 {
		t.Errorf("expected only kinds to be set, got %#v", req)
	}
	if _, ok := req["limit"]; ok {
		t.Error("zero limit must be omitted")
	}
}

func TestRandomSubIDUnique(t *testing.T) {
	a, b := randomSubID(), randomSubID()
	if a == b || len(a) != 16 {
		t.Errorf("subscription IDs not unique/hex-16: %q %q", a, b)
	}
}

func TestIsRelayURLSafe(t *testing.T) {
	cases := []struct {
		url  string
		safe bool
	}{
		{"wss://relay.openvine.co", true},
		{"ws://localhost:7777", true},
		{"wss://127.0.0.1", true},
		{"https://relay.openvine.co", false},
		{"wss://", false},
		{"wss://internal.corp.internal", false},
	}
	for _, tc := range cases {
		if got := isRelayURLSafe(tc.url); got != tc.safe {
			t.Errorf("isRelayURLSafe(%q) = %v, want %v", tc.url, got, tc.safe)
		}
	}
}
