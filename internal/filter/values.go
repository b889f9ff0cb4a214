package filter

import (
	"net/url"
	"strings"

	"github.com/matheus3301/inbox/internal/model"
)

// Values encodes d as navigation query parameters. Empty fields are omitted.
func (d Descriptor) Values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("channel", string(d.Channel))
	set("account", d.AccountID)
	set("bucket", string(d.Bucket))
	if d.Toggles.Starred {
		v.Set("starred", "1")
	}
	if d.Toggles.Snoozed {
		v.Set("snoozed", "1")
	}
	if d.Toggles.Archived {
		v.Set("archived", "1")
	}
	set("status", string(d.Status))
	set("purpose", string(d.Purpose))
	set("q", d.Search)
	return v
}

// Parse rebuilds a descriptor from query parameters. The fields are fed
// through Reduce, bucket first, so a query string that carries both groups
// resolves with the toggles active and the bucket cleared.
func Parse(v url.Values) Descriptor {
	d := Apply(Descriptor{},
		ChannelOf(model.Channel(v.Get("channel"))),
		AccountOf(v.Get("account")),
		Bucketed(Bucket(v.Get("bucket"))),
		StatusOf(model.Status(v.Get("status"))),
		PurposeOf(model.Purpose(v.Get("purpose"))),
		Searching(v.Get("q")),
	)
	for _, t := range []Toggle{Starred, Snoozed, Archived} {
		if truthy(v.Get(string(t))) {
			d = Reduce(d, Toggled(t, true))
		}
	}
	return d
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
