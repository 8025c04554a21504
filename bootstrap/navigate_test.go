package bootstrap

import (
	"net/url"
	"testing"
)

func TestPreserveParams_NoSignals(t *testing.T) {
	got, ok := PreserveParams("https://qa.example.com/index.html", "#forms")
	if ok {
		t.Error("rewritten: got true, want false")
	}
	if got != "#forms" {
		t.Errorf("target: got %q, want %q", got, "#forms")
	}
}

func TestPreserveParams_KeepsAccountAndMode(t *testing.T) {
	tests := []string{
		"https://qa.example.com/index.html?id=55555",
		"https://qa.example.com/index.html?sync",
		"https://qa.example.com/index.html?id=55555&sync#home",
		"https://qa.example.com/index.html?id=42&utm=x",
	}
	for _, current := range tests {
		target, ok := PreserveParams(current, "#forms")
		if !ok {
			t.Errorf("PreserveParams(%q): not rewritten", current)
			continue
		}
		before, after := Resolve(current), Resolve(target)
		if before.AccountID != after.AccountID || before.Mode != after.Mode {
			t.Errorf("PreserveParams(%q) = %q: account %s/%s mode %s/%s",
				current, target, before.AccountID, after.AccountID, before.Mode, after.Mode)
		}
		u, err := url.Parse(target)
		if err != nil {
			t.Fatalf("parse %q: %v", target, err)
		}
		if u.Fragment != "forms" {
			t.Errorf("fragment: got %q, want forms", u.Fragment)
		}
	}
}

func TestPreserveParams_KeepsOtherParams(t *testing.T) {
	target, _ := PreserveParams("https://qa.example.com/?id=42&utm=x", "#forms")
	u, _ := url.Parse(target)
	if u.Query().Get("utm") != "x" {
		t.Errorf("utm dropped: %s", target)
	}
}
