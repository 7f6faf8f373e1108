package cov

import "github.com/covgateway/gateway/registry"

var _ registry.Notifier = (*Manager)(nil)
