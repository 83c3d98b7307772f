// Package locale negotiates the response language for every request.
//
// The language comes from the first explicit source that names a supported
// tag (query parameter, then cookie), falling back to the Accept-Language
// header and finally to the first supported language. The negotiated tag is
// stored as a request local and echoed in the Content-Language header.
//
//	app.Register(locale.Plugin(
//	    locale.WithSupported("en", "de", "fr"),
//	    locale.WithMessages("de", map[string]string{"Hello %s": "Hallo %s"}),
//	))
//
//	app.GET("/greet", func(c *arbor.Context) (any, error) {
//	    return locale.Sprintf(c, "Hello %s", "world"), nil
//	})
package locale

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/dmitrymomot/arbor"
)

var (
	ErrNoLanguages    = errors.New("locale: at least one supported language is required")
	ErrInvalidLang    = errors.New("locale: invalid language tag")
	ErrInvalidMessage = errors.New("locale: invalid message")
)

type localKey struct{}

// Config configures language negotiation.
type Config struct {
	messages   map[string]map[string]string
	Supported  []string `mapstructure:"supported"`
	CookieName string   `mapstructure:"cookie"`
	QueryParam string   `mapstructure:"query_param"`
}

// Option configures Config.
type Option func(*Config)

// WithSupported sets the supported languages. The first one is the default.
func WithSupported(langs ...string) Option {
	return func(cfg *Config) {
		cfg.Supported = langs
	}
}

// WithCookie sets the cookie carrying an explicit language choice.
// An empty name disables the cookie source.
func WithCookie(name string) Option {
	return func(cfg *Config) {
		cfg.CookieName = name
	}
}

// WithQueryParam sets the query parameter carrying an explicit language choice.
// An empty name disables the query source.
func WithQueryParam(name string) Option {
	return func(cfg *Config) {
		cfg.QueryParam = name
	}
}

// WithMessages adds translations for lang, keyed by the format string used
// with Sprintf.
func WithMessages(lang string, msgs map[string]string) Option {
	return func(cfg *Config) {
		if cfg.messages == nil {
			cfg.messages = make(map[string]map[string]string)
		}
		if cfg.messages[lang] == nil {
			cfg.messages[lang] = make(map[string]string, len(msgs))
		}
		for k, v := range msgs {
			cfg.messages[lang][k] = v
		}
	}
}

// Negotiator resolves request languages against a fixed set of supported tags.
type Negotiator struct {
	matcher   language.Matcher
	catalog   catalog.Catalog
	explicit  arbor.Extractor
	supported []language.Tag
}

// NewNegotiator parses cfg and builds the message catalog.
func NewNegotiator(cfg Config) (*Negotiator, error) {
	if len(cfg.Supported) == 0 {
		return nil, ErrNoLanguages
	}

	supported := make([]language.Tag, 0, len(cfg.Supported))
	for _, s := range cfg.Supported {
		tag, err := language.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidLang, s, err)
		}
		supported = append(supported, tag)
	}

	b := catalog.NewBuilder(catalog.Fallback(supported[0]))
	for lang, msgs := range cfg.messages {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidLang, lang, err)
		}
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				return nil, fmt.Errorf("%w %q: %v", ErrInvalidMessage, key, err)
			}
		}
	}

	var sources []arbor.ExtractorSource
	if cfg.QueryParam != "" {
		sources = append(sources, arbor.FromQuery(cfg.QueryParam))
	}
	if cfg.CookieName != "" {
		sources = append(sources, arbor.FromCookie(cfg.CookieName))
	}

	return &Negotiator{
		matcher:   language.NewMatcher(supported),
		catalog:   b,
		explicit:  arbor.NewExtractor(sources...),
		supported: supported,
	}, nil
}

// Match returns the supported tag closest to the given preferences.
// Each preference may be a single tag or an Accept-Language list; earlier
// preferences win.
func (n *Negotiator) Match(prefs ...string) language.Tag {
	_, idx := language.MatchStrings(n.matcher, prefs...)
	return n.supported[idx]
}

// Negotiate resolves the language for c.
func (n *Negotiator) Negotiate(c *arbor.Context) language.Tag {
	explicit, _ := n.explicit.Extract(c)
	if explicit != "" {
		if tag, err := language.Parse(explicit); err == nil {
			if _, idx, conf := n.matcher.Match(tag); conf != language.No {
				return n.supported[idx]
			}
		}
	}
	return n.Match(c.Header("Accept-Language"))
}

// Printer returns a printer for tag backed by the message catalog.
func (n *Negotiator) Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(n.catalog))
}

type state struct {
	neg *Negotiator
	tag language.Tag
}

// Plugin returns an opaque plugin negotiating the language in a request hook.
func Plugin(opts ...Option) arbor.Plugin {
	cfg := Config{
		Supported:  []string{"en"},
		CookieName: "lang",
		QueryParam: "lang",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return arbor.NewPlugin("locale", func(_ context.Context, s *arbor.Scope, _ arbor.PluginOptions) error {
		neg, err := NewNegotiator(cfg)
		if err != nil {
			return err
		}

		resolve := func(c *arbor.Context) language.Tag {
			if v, ok := c.Local(localKey{}); ok {
				if st, ok := v.(state); ok {
					return st.tag
				}
			}
			tag := neg.Negotiate(c)
			c.Set(localKey{}, state{neg: neg, tag: tag})
			return tag
		}

		s.OnRequest(func(c *arbor.Context) (*arbor.Response, error) {
			resolve(c)
			return nil, nil
		})

		// Error pages are localized too, even for unmatched routes.
		s.OnSend(func(c *arbor.Context, res *arbor.Response) (*arbor.Response, error) {
			if res.Header.Get("Content-Language") == "" {
				res.Header.Set("Content-Language", resolve(c).String())
			}
			return nil, nil
		})
		return nil
	}).Opaque()
}

// Tag returns the negotiated language of c, or language.Und outside the plugin.
func Tag(c *arbor.Context) language.Tag {
	if c == nil {
		return language.Und
	}
	v, _ := c.Local(localKey{})
	st, ok := v.(state)
	if !ok {
		return language.Und
	}
	return st.tag
}

// Printer returns a printer for the negotiated language of c. Outside the
// plugin it prints untranslated English.
func Printer(c *arbor.Context) *message.Printer {
	if c != nil {
		if v, ok := c.Local(localKey{}); ok {
			if st, ok := v.(state); ok {
				return st.neg.Printer(st.tag)
			}
		}
	}
	return message.NewPrinter(language.English)
}

// Sprintf formats key in the negotiated language, using its translation when
// one is registered.
func Sprintf(c *arbor.Context, key string, args ...any) string {
	return Printer(c).Sprintf(key, args...)
}
