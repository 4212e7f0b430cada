// Package controller provides Kubernetes controllers
package controller

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	internalconfig "github.com/kagenti/mcp-gateway/internal/config"
	"github.com/kagenti/mcp-gateway/internal/httptools"
	"github.com/kagenti/mcp-gateway/internal/openapitools"
)

// AggregatedConfig is the on-disk shape internal/config.Loader's rawFile
// decodes: profiles and upstreams side by side, plus the declarative local
// tool sources no CRD currently populates (kept so a hand-edited ConfigMap
// can still add them without conflicting with what the controller writes).
type AggregatedConfig struct {
	Profiles       []*internalconfig.Profile                  `json:"profiles" yaml:"profiles"`
	Upstreams      map[string]*internalconfig.Upstream        `json:"upstreams" yaml:"upstreams"`
	HTTPSources    map[string]httptools.ServerConfig          `json:"httpSources,omitempty" yaml:"httpSources,omitempty"`
	OpenAPISources map[string]openapitools.ServerConfig       `json:"openapiSources,omitempty" yaml:"openapiSources,omitempty"`
}

// ConfigMapWriter writes the aggregated config ConfigMap the Adapter and
// Gateway binaries mount and hot-reload via internal/config.Loader.
type ConfigMapWriter struct {
	Client client.Client
	Scheme *runtime.Scheme
}

// WriteAggregatedConfig writes aggregated config with retry logic for conflicts
func (w *ConfigMapWriter) WriteAggregatedConfig(
	ctx context.Context,
	namespace, name string,
	cfg *AggregatedConfig,
) error {
	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	configMap := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				"app":                        "mcp-gateway",
				"mcp.kagenti.com/aggregated": "true",
			},
		},
		Data: map[string]string{
			"config.yaml": string(yamlData),
		},
	}

	// Retry with exponential backoff for conflict errors. Propagation to
	// running Adapter/Gateway pods happens via their own fsnotify-driven
	// reload of the mounted ConfigMap volume (internal/config.Loader.Start),
	// not a push from here — there is no longer a broker-side "/config"
	// HTTP receiver to push to.
	return wait.ExponentialBackoff(wait.Backoff{
		Duration: 100 * time.Millisecond,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    5,
	}, func() (bool, error) {
		existing := &corev1.ConfigMap{}
		err := w.Client.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, existing)
		if err != nil {
			if errors.IsNotFound(err) {
				err = w.Client.Create(ctx, configMap)
				if errors.IsAlreadyExists(err) {
					// Someone else created it, retry
					return false, nil
				}
				return err == nil, err
			}
			return false, err
		}

		// Only update if data or labels have changed
		if !equality.Semantic.DeepEqual(existing.Data, configMap.Data) ||
			!equality.Semantic.DeepEqual(existing.Labels, configMap.Labels) {
			existing.Data = configMap.Data
			existing.Labels = configMap.Labels
			err = w.Client.Update(ctx, existing)
			if errors.IsConflict(err) {
				// Resource conflict, retry
				return false, nil
			}
			return err == nil, err
		}

		return true, nil
	})
}

// NewConfigMapWriter creates a ConfigMapWriter
func NewConfigMapWriter(client client.Client, scheme *runtime.Scheme) *ConfigMapWriter {
	return &ConfigMapWriter{
		Client: client,
		Scheme: scheme,
	}
}
