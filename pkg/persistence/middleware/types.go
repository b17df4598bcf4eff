// Package middleware decorates context stores.
package middleware

import "github.com/listiago/atendechat/pkg/ports"

// Middleware allows wrapping a ContextStore to add behavior.
type Middleware func(ports.ContextStore) ports.ContextStore
