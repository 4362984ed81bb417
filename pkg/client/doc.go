// Package client bootstraps Kubernetes API access. It resolves a rest.Config
// from an explicit kubeconfig, the standard loading rules, or the in-cluster
// service account, applies throttling and identity options, and routes
// client-go's klog output through the process zap logger.
package client
