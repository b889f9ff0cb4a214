// Package signature selects and renders agent signatures for outbound
// messages.
package signature

import (
	"regexp"
	"slices"
	"strings"

	"github.com/matheus3301/inbox/internal/model"
)

// ScopeAll makes a template eligible on every channel.
const ScopeAll = "all"

// Variant is the layout of a template.
type Variant string

const (
	VariantPlain Variant = "plain"
	VariantLogo  Variant = "logo"
)

// Template is a stored signature. Scope is a channel name or ScopeAll.
type Template struct {
	ID      string            `json:"id" toml:"id"`
	Name    string            `json:"name" toml:"name"`
	Scope   string            `json:"scope" toml:"scope"`
	Variant Variant           `json:"variant" toml:"variant"`
	Active  bool              `json:"active" toml:"active"`
	Default bool              `json:"default" toml:"default"`
	Body    string            `json:"body" toml:"body"`
	Links   map[string]string `json:"links,omitempty" toml:"links"`
	LogoURL string            `json:"logo_url,omitempty" toml:"logo_url"`
}

// Profile holds the sender fields a template may reference.
type Profile struct {
	Name      string `json:"name" toml:"name"`
	FirstName string `json:"first_name" toml:"first_name"`
	LastName  string `json:"last_name" toml:"last_name"`
	Email     string `json:"email" toml:"email"`
	Phone     string `json:"phone" toml:"phone"`
	Title     string `json:"title" toml:"title"`
	Company   string `json:"company" toml:"company"`
}

// Eligible reports whether t may be used on channel. The logo variant is
// only usable on email.
func Eligible(t Template, channel model.Channel) bool {
	if !t.Active {
		return false
	}
	if t.Scope != ScopeAll && t.Scope != string(channel) {
		return false
	}
	if t.Variant == VariantLogo && channel != model.ChannelEmail {
		return false
	}
	return true
}

// Select picks the signature for channel. An eligible explicit choice wins,
// then a default scoped to exactly this channel, then a default scoped to
// all channels, then the first eligible template. ok is false when nothing
// is eligible.
func Select(templates []Template, channel model.Channel, explicitID string) (Template, bool) {
	eligible := make([]Template, 0, len(templates))
	for _, t := range templates {
		if Eligible(t, channel) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return Template{}, false
	}
	if explicitID != "" {
		if i := slices.IndexFunc(eligible, func(t Template) bool { return t.ID == explicitID }); i >= 0 {
			return eligible[i], true
		}
	}
	if i := slices.IndexFunc(eligible, func(t Template) bool { return t.Default && t.Scope == string(channel) }); i >= 0 {
		return eligible[i], true
	}
	if i := slices.IndexFunc(eligible, func(t Template) bool { return t.Default }); i >= 0 {
		return eligible[i], true
	}
	return eligible[0], true
}

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Render substitutes profile fields into t and appends its links. Unknown
// or empty placeholders render as "".
func Render(t Template, p Profile, channel model.Channel) string {
	vars := p.values()
	body := placeholder.ReplaceAllStringFunc(t.Body, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		return vars[normalize(name)]
	})

	var lines []string
	if t.Variant == VariantLogo && channel == model.ChannelEmail && strings.TrimSpace(t.LogoURL) != "" {
		lines = append(lines, strings.TrimSpace(t.LogoURL))
	}
	if body = strings.TrimSpace(body); body != "" {
		lines = append(lines, body)
	}
	for _, key := range linkOrder(t.Links) {
		url := strings.TrimSpace(t.Links[key])
		if url == "" {
			continue
		}
		if channel == model.ChannelEmail {
			lines = append(lines, linkLabel(key)+": "+url)
		} else {
			lines = append(lines, url)
		}
	}
	return strings.Join(lines, "\n")
}

// Compose joins the draft and a rendered signature block with a blank line.
// An empty block leaves the draft untouched.
func Compose(draft, block string) string {
	if block == "" {
		return draft
	}
	if strings.TrimSpace(draft) == "" {
		return block
	}
	return strings.TrimRight(draft, " \t\n") + "\n\n" + block
}

// Resolve selects, renders and composes in one step.
func Resolve(draft string, templates []Template, channel model.Channel, explicitID string, p Profile) string {
	t, ok := Select(templates, channel, explicitID)
	if !ok {
		return draft
	}
	return Compose(draft, Render(t, p, channel))
}

// normalize folds a placeholder name so "First Name", "first_name" and
// "FIRST-NAME" compare equal.
func normalize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(name))
}

func (p Profile) values() map[string]string {
	first, last := strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = strings.TrimSpace(first + " " + last)
	}
	if first == "" && last == "" && name != "" {
		parts := strings.Fields(name)
		first = parts[0]
		last = strings.Join(parts[1:], " ")
	}
	v := map[string]string{
		"name":      name,
		"firstname": first,
		"lastname":  last,
		"email":     strings.TrimSpace(p.Email),
		"phone":     strings.TrimSpace(p.Phone),
		"title":     strings.TrimSpace(p.Title),
		"company":   strings.TrimSpace(p.Company),
	}
	v["fullname"] = v["name"]
	v["jobtitle"] = v["title"]
	v["phonenumber"] = v["phone"]
	return v
}
