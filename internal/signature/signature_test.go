package signature

import (
	"testing"
	"unicode/utf8"

	"github.com/matheus3301/inbox/internal/model"
)

func TestSelectFallbackOrder(t *testing.T) {
	a := Template{ID: "A", Scope: ScopeAll, Active: true, Body: "A"}
	b := Template{ID: "B", Scope: "email", Active: true, Default: true, Body: "B"}

	got, ok := Select([]Template{a, b}, model.ChannelEmail, "")
	if !ok || got.ID != "B" {
		t.Fatalf("Select = %q, %v; want B", got.ID, ok)
	}

	got, ok = Select([]Template{a}, model.ChannelEmail, "")
	if !ok || got.ID != "A" {
		t.Fatalf("Select without B = %q, %v; want A", got.ID, ok)
	}
}

func TestSelect(t *testing.T) {
	all := Template{ID: "all", Scope: ScopeAll, Active: true}
	allDefault := Template{ID: "all-default", Scope: ScopeAll, Active: true, Default: true}
	sms := Template{ID: "sms", Scope: "sms", Active: true}
	smsDefault := Template{ID: "sms-default", Scope: "sms", Active: true, Default: true}
	inactive := Template{ID: "inactive", Scope: ScopeAll, Default: true}
	logo := Template{ID: "logo", Scope: ScopeAll, Active: true, Variant: VariantLogo, Default: true}

	tests := []struct {
		name      string
		templates []Template
		channel   model.Channel
		explicit  string
		want      string
	}{
		{"explicit wins", []Template{smsDefault, sms}, model.ChannelSMS, "sms", "sms"},
		{"ineligible explicit ignored", []Template{smsDefault, sms}, model.ChannelEmail, "sms", ""},
		{"exact default before all default", []Template{allDefault, smsDefault}, model.ChannelSMS, "", "sms-default"},
		{"all default when no exact default", []Template{sms, allDefault}, model.ChannelSMS, "", "all-default"},
		{"first eligible", []Template{sms, all}, model.ChannelChat, "", "all"},
		{"inactive skipped", []Template{inactive}, model.ChannelChat, "", ""},
		{"logo only on email", []Template{logo, all}, model.ChannelSMS, "", "all"},
		{"logo on email", []Template{all, logo}, model.ChannelEmail, "", "logo"},
		{"none", nil, model.ChannelEmail, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.templates, tt.channel, tt.explicit)
			if tt.want == "" {
				if ok {
					t.Errorf("Select = %q, want none", got.ID)
				}
				return
			}
			if !ok || got.ID != tt.want {
				t.Errorf("Select = %q (ok=%v), want %q", got.ID, ok, tt.want)
			}
		})
	}
}

func TestRenderPlaceholders(t *testing.T) {
	p := Profile{Name: "Grace Brewster Hopper", Email: "grace@acme.io", Title: "Rear Admiral"}
	tpl := Template{Body: "{{ name }}\n{{First Name}} / {{LAST_NAME}} / {{ last-name }}\n{{title}}, {{ company }}\n{{EMAIL}} {{unknown}}{{phone}}"}

	got := Render(tpl, p, model.ChannelSMS)
	want := "Grace Brewster Hopper\nGrace / Brewster Hopper / Brewster Hopper\nRear Admiral, \ngrace@acme.io"
	if got != want {
		t.Errorf("Render =\n%q\nwant\n%q", got, want)
	}
}

func TestRenderLinks(t *testing.T) {
	tpl := Template{
		Body: "{{name}}",
		Links: map[string]string{
			"youtube":  "https://youtube.com/acme",
			"github":   "https://github.com/acme",
			"website":  "https://acme.io",
			"x":        "https://x.com/acme",
			"facebook": "",
			"blog":     "https://acme.io/blog",
			"linkedin": "https://linkedin.com/company/acme",
		},
	}
	p := Profile{FirstName: "Ada", LastName: "Lovelace"}

	email := Render(tpl, p, model.ChannelEmail)
	wantEmail := "Ada Lovelace\n" +
		"Website: https://acme.io\n" +
		"LinkedIn: https://linkedin.com/company/acme\n" +
		"X: https://x.com/acme\n" +
		"YouTube: https://youtube.com/acme\n" +
		"Blog: https://acme.io/blog\n" +
		"Github: https://github.com/acme"
	if email != wantEmail {
		t.Errorf("email =\n%s\nwant\n%s", email, wantEmail)
	}

	chat := Render(tpl, p, model.ChannelChat)
	wantChat := "Ada Lovelace\n" +
		"https://acme.io\n" +
		"https://linkedin.com/company/acme\n" +
		"https://x.com/acme\n" +
		"https://youtube.com/acme\n" +
		"https://acme.io/blog\n" +
		"https://github.com/acme"
	if chat != wantChat {
		t.Errorf("chat =\n%s\nwant\n%s", chat, wantChat)
	}
}

func TestRenderLogo(t *testing.T) {
	tpl := Template{Variant: VariantLogo, Body: "{{name}}", LogoURL: "https://acme.io/logo.png"}
	got := Render(tpl, Profile{Name: "Ada"}, model.ChannelEmail)
	if got != "https://acme.io/logo.png\nAda" {
		t.Errorf("Render = %q", got)
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		draft, block, want string
	}{
		{"Hello", "", "Hello"},
		{"Hello", "Ada", "Hello\n\nAda"},
		{"Hello\n", "Ada", "Hello\n\nAda"},
		{"", "Ada", "Ada"},
		{" \n\t", "Ada", "Ada"},
	}
	for _, tt := range tests {
		if got := Compose(tt.draft, tt.block); got != tt.want {
			t.Errorf("Compose(%q, %q) = %q, want %q", tt.draft, tt.block, got, tt.want)
		}
	}
}

func TestLinkLabel(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"linkedin", "LinkedIn"},
		{"YOUTUBE", "YouTube"},
		{"blog", "Blog"},
		{"élan", "Élan"},
		{"ñandu", "Ñandu"},
		{"", ""},
	}
	for _, tt := range tests {
		got := linkLabel(tt.key)
		if got != tt.want || !utf8.ValidString(got) {
			t.Errorf("linkLabel(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestResolveWithoutSignature(t *testing.T) {
	got := Resolve("Hi there", nil, model.ChannelSMS, "", Profile{Name: "Ada"})
	if got != "Hi there" {
		t.Errorf("Resolve = %q, want draft unchanged", got)
	}
}
