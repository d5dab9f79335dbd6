package config

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// WatchEtcd watches key in an etcd cluster and pushes a freshly parsed
// Config to configCh every time its value changes, the way the pack's
// mitake-gobgp config.WatchEtcd watches a BGP config document — rebuilt
// here against the modern go.etcd.io/etcd/client/v3 API and this package's
// own Config shape instead of writing the value out to a temp file first.
func WatchEtcd(ctx context.Context, endpoints []string, key string, configCh chan<- *Config) error {
	client, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return fmt.Errorf("connect to etcd: %w", err)
	}
	defer client.Close()

	get, err := client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("initial read of %s: %w", key, err)
	}
	if len(get.Kvs) > 0 {
		c, err := LoadBytes(get.Kvs[0].Value)
		if err != nil {
			log.WithField("key", key).WithError(err).Warn("config: initial etcd value is invalid")
		} else {
			configCh <- c
		}
	}

	watch := client.Watch(ctx, key)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rsp, ok := <-watch:
			if !ok {
				return fmt.Errorf("etcd watch channel closed for key %s", key)
			}
			if rsp.Err() != nil {
				log.WithField("key", key).WithError(rsp.Err()).Warn("config: etcd watch error")
				continue
			}
			for _, ev := range rsp.Events {
				c, err := LoadBytes(ev.Kv.Value)
				if err != nil {
					log.WithField("key", key).WithError(err).Warn("config: watched value is invalid, keeping previous config")
					continue
				}
				configCh <- c
			}
		}
	}
}
