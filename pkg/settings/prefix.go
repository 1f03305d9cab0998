package settings

import "context"

type prefixed struct {
	store  Store
	prefix string
}

// Prefixed namespaces every key of s with prefix + "_", so several plugins
// can share one store ("myplugin_allow_tracking").
func Prefixed(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{store: s, prefix: prefix + "_"}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	return p.store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string, opts ...SetOption) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return p.store.Set(ctx, p.prefix+key, value, opts...)
}

func (p *prefixed) SetIfAbsent(ctx context.Context, key, value string, opts ...SetOption) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return p.store.SetIfAbsent(ctx, p.prefix+key, value, opts...)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return p.store.Delete(ctx, p.prefix+key)
}
