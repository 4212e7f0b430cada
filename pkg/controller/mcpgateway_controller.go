package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	internalconfig "github.com/kagenti/mcp-gateway/internal/config"
	mcpclient "github.com/kagenti/mcp-gateway/internal/mcp"
	"github.com/kagenti/mcp-gateway/internal/upstream"
	mcpv1alpha1 "github.com/kagenti/mcp-gateway/pkg/apis/mcp/v1alpha1"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// ConfigNamespace is the namespace the aggregated config ConfigMap lives in.
	ConfigNamespace = "mcp-system"
	// ConfigName is the name of the aggregated config ConfigMap.
	ConfigName = "mcp-gateway-config"
	// requiredProtocolVersion is the MCP protocol version the gateway's
	// streamable HTTP transport speaks; an upstream advertising anything
	// else is still registered (AllowPartialUpstreams); the mismatch is only
	// logged and does not affect the Ready condition.
	requiredProtocolVersion = "2025-06-18"
)

// ServerInfo is one upstream MCP server discovered from an MCPGateway's
// targetRefs, before it has been validated or turned into a config.Upstream.
type ServerInfo struct {
	UpstreamID string
	Endpoint   string
	Hostname   string
}

// ServerValidation is what a single connect-and-list-tools pass against a
// discovered server found out.
type ServerValidation struct {
	ServerInfo      ServerInfo
	ConnectionError error
	InitResult      *mcp.InitializeResult
	Connected       bool
	Tools           []mcp.Tool
}

// MCPGatewayReconciler reconciles MCPGateway resources into the aggregated
// profiles/upstreams config file the Adapter and Gateway binaries hot-reload.
type MCPGatewayReconciler struct {
	client.Client
	Scheme *runtime.Scheme
}

// +kubebuilder:rbac:groups=mcp.kagenti.com,resources=mcpgateways,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=mcp.kagenti.com,resources=mcpgateways/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=gateway.networking.k8s.io,resources=httproutes,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch
// +kubebuilder:rbac:groups="",resources=services,verbs=get;list;watch

// Reconcile reconciles an MCPGateway resource.
func (r *MCPGatewayReconciler) Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	log := log.FromContext(ctx)
	log.Info("Reconciling MCPGateway", "name", req.Name, "namespace", req.Namespace)

	mcpGateway := &mcpv1alpha1.MCPGateway{}
	err := r.Get(ctx, req.NamespacedName, mcpGateway)
	if err != nil {
		if errors.IsNotFound(err) {
			log.Info("MCPGateway resource not found, regenerating aggregated config")
			return r.regenerateAggregatedConfig(ctx)
		}
		log.Error(err, "Failed to get MCPGateway")
		return reconcile.Result{}, err
	}

	serverInfos, err := r.discoverServersFromHTTPRoutes(ctx, mcpGateway)
	if err != nil {
		log.Error(err, "Failed to discover servers from HTTPRoutes")
		return reconcile.Result{}, r.updateStatus(ctx, mcpGateway, nil, err.Error())
	}

	validations := r.validateServers(ctx, serverInfos)
	if err := r.updateStatus(ctx, mcpGateway, validations, ""); err != nil {
		log.Error(err, "Failed to update status")
		return reconcile.Result{}, err
	}

	return r.regenerateAggregatedConfig(ctx)
}

func (r *MCPGatewayReconciler) regenerateAggregatedConfig(ctx context.Context) (reconcile.Result, error) {
	log := log.FromContext(ctx)

	mcpGatewayList := &mcpv1alpha1.MCPGatewayList{}
	if err := r.List(ctx, mcpGatewayList); err != nil {
		log.Error(err, "Failed to list MCPGateways")
		return reconcile.Result{}, err
	}

	cfg := &AggregatedConfig{
		Upstreams: map[string]*internalconfig.Upstream{},
	}

	for _, mcpGateway := range mcpGatewayList.Items {
		if !isReady(&mcpGateway) {
			log.Info("Skipping MCPGateway that is not ready",
				"name", mcpGateway.Name,
				"namespace", mcpGateway.Namespace)
			continue
		}

		serverInfos, err := r.discoverServersFromHTTPRoutes(ctx, &mcpGateway)
		if err != nil {
			log.Error(err, "Failed to discover server endpoints",
				"name", mcpGateway.Name,
				"namespace", mcpGateway.Namespace)
			continue
		}
		validations := r.validateServers(ctx, serverInfos)

		upstreamIDs := make([]string, 0, len(validations))
		for _, v := range validations {
			cfg.Upstreams[v.ServerInfo.UpstreamID] = &internalconfig.Upstream{
				ID:      v.ServerInfo.UpstreamID,
				Enabled: v.Connected,
				Endpoints: []upstream.Endpoint{{
					ID:      v.ServerInfo.UpstreamID,
					URL:     v.ServerInfo.Endpoint,
					Enabled: v.Connected,
				}},
			}
			upstreamIDs = append(upstreamIDs, v.ServerInfo.UpstreamID)
		}

		cfg.Profiles = append(cfg.Profiles, &internalconfig.Profile{
			ID: string(mcpGateway.UID),
			// Namespace doubles as tenant: two MCPGateways in different
			// namespaces are always distinct tenants, matching the
			// cross-namespace targetRef restriction discoverServersFromHTTPRoutes
			// already enforces.
			TenantID:              mcpGateway.Namespace,
			Name:                  mcpGateway.Name,
			Enabled:               true,
			AllowPartialUpstreams: true,
			UpstreamIDs:           upstreamIDs,
			DataPlaneAuthMode:     internalconfig.AuthDisabled,
		})
	}

	if err := r.writeAggregatedConfig(ctx, cfg); err != nil {
		log.Error(err, "Failed to write aggregated configuration")
		return reconcile.Result{}, err
	}

	log.Info("Successfully regenerated aggregated configuration",
		"profileCount", len(cfg.Profiles), "upstreamCount", len(cfg.Upstreams))
	return reconcile.Result{RequeueAfter: 30 * time.Second}, nil
}

func (r *MCPGatewayReconciler) writeAggregatedConfig(ctx context.Context, cfg *AggregatedConfig) error {
	writer := NewConfigMapWriter(r.Client, r.Scheme)
	return writer.WriteAggregatedConfig(ctx, ConfigNamespace, ConfigName, cfg)
}

func isReady(mcpGateway *mcpv1alpha1.MCPGateway) bool {
	for _, condition := range mcpGateway.Status.Conditions {
		if condition.Type == "Ready" && condition.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

func (r *MCPGatewayReconciler) discoverServersFromHTTPRoutes(ctx context.Context, mcpGateway *mcpv1alpha1.MCPGateway) ([]ServerInfo, error) {
	var serverInfos []ServerInfo

	for _, targetRef := range mcpGateway.Spec.TargetRefs {
		if targetRef.Group != "gateway.networking.k8s.io" {
			return nil, fmt.Errorf("invalid targetRef group %q: only gateway.networking.k8s.io is supported", targetRef.Group)
		}
		if targetRef.Kind != "HTTPRoute" {
			return nil, fmt.Errorf("invalid targetRef kind %q: only HTTPRoute is supported", targetRef.Kind)
		}

		namespace := mcpGateway.Namespace
		if targetRef.Namespace != "" && targetRef.Namespace != namespace {
			return nil, fmt.Errorf("cross-namespace reference to %s/%s not allowed without ReferenceGrant support", targetRef.Namespace, targetRef.Name)
		}

		httpRoute := &gatewayv1.HTTPRoute{}
		err := r.Get(ctx, types.NamespacedName{
			Name:      targetRef.Name,
			Namespace: namespace,
		}, httpRoute)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, fmt.Errorf("HTTPRoute %s/%s not found", namespace, targetRef.Name)
			}
			return nil, fmt.Errorf("failed to get HTTPRoute %s/%s: %w", namespace, targetRef.Name, err)
		}

		if len(httpRoute.Spec.Rules) == 0 || len(httpRoute.Spec.Rules[0].BackendRefs) == 0 {
			return nil, fmt.Errorf("HTTPRoute %s/%s has no backend references", namespace, targetRef.Name)
		}

		backendRef := httpRoute.Spec.Rules[0].BackendRefs[0]
		if backendRef.Name == "" {
			return nil, fmt.Errorf("backend reference has no name")
		}

		kind := "Service"
		if backendRef.Kind != nil {
			kind = string(*backendRef.Kind)
		}
		if kind != "Service" {
			return nil, fmt.Errorf("backend reference is not a Service: %s", kind)
		}

		backendNamespace := namespace
		if backendRef.Namespace != nil {
			backendNamespace = string(*backendRef.Namespace)
		}

		port := int32(80)
		if backendRef.Port != nil {
			port = int32(*backendRef.Port)
		}

		endpoint := fmt.Sprintf("http://%s.%s.svc.cluster.local:%d/mcp", backendRef.Name, backendNamespace, port)

		if len(httpRoute.Spec.Hostnames) != 1 {
			return nil, fmt.Errorf("HTTPRoute %s/%s must have exactly one hostname for MCP backend routing, found %d",
				namespace, targetRef.Name, len(httpRoute.Spec.Hostnames))
		}
		hostname := string(httpRoute.Spec.Hostnames[0])

		serverInfos = append(serverInfos, ServerInfo{
			// internal/aggregator namespaces tool names by upstream id on
			// collision, so this only needs to be stable and unique per
			// MCPGateway, not globally meaningful — targetRef.ToolPrefix is
			// still accepted on the API for compatibility but isn't
			// threaded through: a static per-targetRef rename can't be
			// expressed as a Profile-wide transform.ToolOverride (keyed by
			// bare tool name, applied uniformly across every source), so
			// the aggregator's own collision-safe "source:name" namespacing
			// is what disambiguates same-named tools across upstreams now.
			UpstreamID: fmt.Sprintf("%s-%s", mcpGateway.Name, targetRef.Name),
			Endpoint:   endpoint,
			Hostname:   hostname,
		})
	}

	return serverInfos, nil
}

// validateServers makes one connection per discovered server to confirm
// it's reachable and speaks the expected MCP protocol version — the same
// single-connection validation approach the teacher's original per-server
// reconciler used, folded in here since that reconciler targeted a CRD type
// that was never actually defined.
func (r *MCPGatewayReconciler) validateServers(ctx context.Context, serverInfos []ServerInfo) []ServerValidation {
	log := log.FromContext(ctx)
	validations := make([]ServerValidation, 0, len(serverInfos))

	for _, info := range serverInfos {
		c, initResult, err := mcpclient.CreateClient(ctx, info.Endpoint)
		if err != nil {
			log.Info("server connectivity validation failed", "upstream", info.UpstreamID, "endpoint", info.Endpoint, "error", err)
			validations = append(validations, ServerValidation{ServerInfo: info, ConnectionError: err})
			continue
		}

		if initResult.ProtocolVersion != requiredProtocolVersion {
			log.Info("server advertised an unexpected protocol version", "upstream", info.UpstreamID, "actual", initResult.ProtocolVersion, "expected", requiredProtocolVersion)
		}

		var tools []mcp.Tool
		if toolsResult, err := mcpclient.ListTools(ctx, c); err != nil {
			log.Info("failed to list tools from server", "upstream", info.UpstreamID, "error", err)
		} else {
			tools = toolsResult.Tools
		}

		if err := c.Close(); err != nil {
			log.Info("failed to close validation client connection", "upstream", info.UpstreamID, "error", err)
		}

		validations = append(validations, ServerValidation{
			ServerInfo: info,
			InitResult: initResult,
			Connected:  true,
			Tools:      tools,
		})
	}

	return validations
}

func (r *MCPGatewayReconciler) updateStatus(ctx context.Context, mcpGateway *mcpv1alpha1.MCPGateway, validations []ServerValidation, discoveryErr string) error {
	condition := metav1.Condition{
		Type:               "Ready",
		LastTransitionTime: metav1.Now(),
	}

	switch {
	case discoveryErr != "":
		condition.Status = metav1.ConditionFalse
		condition.Reason = "DiscoveryFailed"
		condition.Message = discoveryErr
	default:
		var degraded []string
		for _, v := range validations {
			if !v.Connected {
				degraded = append(degraded, v.ServerInfo.UpstreamID)
			}
		}
		condition.Status = metav1.ConditionTrue
		if len(degraded) > 0 {
			condition.Reason = "ServersDegraded"
			condition.Message = fmt.Sprintf("%d of %d upstreams unreachable: %s", len(degraded), len(validations), strings.Join(degraded, ", "))
		} else {
			condition.Reason = "Ready"
			condition.Message = fmt.Sprintf("%d upstreams reachable", len(validations))
		}
	}

	found := false
	for i, cond := range mcpGateway.Status.Conditions {
		if cond.Type == condition.Type {
			mcpGateway.Status.Conditions[i] = condition
			found = true
			break
		}
	}
	if !found {
		mcpGateway.Status.Conditions = append(mcpGateway.Status.Conditions, condition)
	}

	return r.Status().Update(ctx, mcpGateway)
}

// SetupWithManager registers the reconciler with mgr.
func (r *MCPGatewayReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&mcpv1alpha1.MCPGateway{}).
		Complete(r)
}
