// Package config provides loading and environment overlay for the
// shop-analytics runtime configuration. It exposes a Default() baseline,
// file loading (JSON or TOML), and a SHOP_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/shop-analytics.toml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
package config
