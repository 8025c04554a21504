package bootstrap

import (
	"net/url"
	"strings"
)

// PreserveParams rewrites an in-page navigation so the loader signals in
// the current address survive it. href is a hash link such as "#forms".
//
// When the current address carries an id parameter or the "sync" substring,
// the target is the current URL with id and sync set and the fragment
// replaced by href's page name; rewritten is true. Otherwise href is
// returned as is and the caller should let the default navigation happen.
func PreserveParams(currentURL, href string) (target string, rewritten bool) {
	u, err := url.Parse(currentURL)
	if err != nil {
		return href, false
	}
	q, _ := url.ParseQuery(u.RawQuery)
	id := q.Get("id")
	isSync := strings.Contains(currentURL, "sync")
	if id == "" && !isSync {
		return href, false
	}

	if id != "" {
		q.Set("id", id)
	}
	if isSync {
		q.Set("sync", "")
	}
	u.RawQuery = q.Encode()
	u.Fragment = strings.Replace(href, "#", "", 1)
	u.RawFragment = ""
	return u.String(), true
}
