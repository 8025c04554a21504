package bootstrap

import (
	"net/http"
	"testing"
)

func TestEncodeCombination(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		want   string
	}{
		{"empty jar", "", ""},
		{"no matching cookies", "firstName=abc; session=xyz", ""},
		{"single", "_vis_opt_exp_12_combi=1,2", "12-1,2"},
		{"two cookies in order", "_vis_opt_exp_12_combi=1,2; _vis_opt_exp_13_combi=3", "12-1,2|13-3"},
		{"order follows the jar", "_vis_opt_exp_13_combi=3; _vis_opt_exp_12_combi=1,2", "13-3|12-1,2"},
		{"mixed with others", "a=1; _vis_opt_exp_7_combi=2; b=_vis; _vis_opt_exp_8_combi=1", "7-2|8-1"},
		{"no space after separator", "a=1;_vis_opt_exp_5_combi=4", "5-4"},
		{"garbled value dropped", "_vis_opt_exp_12_combi=abc; _vis_opt_exp_13_combi=3", "13-3"},
		{"percent-encoded comma", "_vis_opt_exp_12_combi=1%2C2", "12-1,2"},
		{"malformed escape dropped", "_vis_opt_exp_12_combi=1%E; _vis_opt_exp_13_combi=3", "13-3"},
		{"invalid utf8 dropped", "_vis_opt_exp_12_combi=%FF1; _vis_opt_exp_13_combi=3", "13-3"},
		{"script injection dropped", "_vis_opt_exp_12_combi=1<script>", ""},
		{"uppercase name matched then rejected", "_VIS_OPT_EXP_12_COMBI=1", ""},
		{"trailing space accepted", "_vis_opt_exp_12_combi=1,2 ", "12-1,2"},
		{"empty value dropped", "_vis_opt_exp_12_combi=", ""},
		{"not at a cookie boundary", "x_vis_opt_exp_12_combi=1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeCombination(tt.cookie); got != tt.want {
				t.Errorf("EncodeCombination(%q) = %q, want %q", tt.cookie, got, tt.want)
			}
		})
	}
}

func TestCombinationFromCookies(t *testing.T) {
	cookies := []*http.Cookie{
		{Name: "_vis_opt_exp_12_combi", Value: "1,2"},
		nil,
		{Name: "firstName", Value: "abc"},
		{Name: "_vis_opt_exp_13_combi", Value: "3"},
	}
	if got := CombinationFromCookies(cookies); got != "12-1,2|13-3" {
		t.Errorf("CombinationFromCookies: got %q", got)
	}
}

func TestCookieString(t *testing.T) {
	got := CookieString([]*http.Cookie{{Name: "a", Value: "1"}, {Name: "", Value: "x"}, {Name: "b", Value: "2"}})
	if got != "a=1; b=2" {
		t.Errorf("CookieString: got %q", got)
	}
}
