package entitlement

import "strings"

type prefixed struct {
	inner  Store
	prefix string
}

// ScopePrefix is the key namespace used for prefix; empty means Domain.
func ScopePrefix(prefix string) string {
	if prefix == "" {
		return Domain
	}
	return prefix
}

// WithPrefix namespaces every key of s under prefix + ".".
func WithPrefix(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{inner: s, prefix: prefix + "."}
}

func (p *prefixed) Get(key string) (int, error) { return p.inner.Get(p.prefix + key) }

func (p *prefixed) Set(key string, n int) error { return p.inner.Set(p.prefix+key, n) }

func (p *prefixed) Delete(key string) error { return p.inner.Delete(p.prefix + key) }

// Keys lists the keys under the prefix with the prefix stripped.
func (p *prefixed) Keys() ([]string, error) {
	l, ok := p.inner.(Lister)
	if !ok {
		return nil, nil
	}
	all, err := l.Keys()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range all {
		if rest, ok := strings.CutPrefix(k, p.prefix); ok {
			out = append(out, rest)
		}
	}
	return out, nil
}
