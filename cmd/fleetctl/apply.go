package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a resource definition",
	Long: `Apply a fleetd resource from a YAML file.

Examples:
  # Create or update a cargo
  fleetctl apply -f cargo.yaml

  # Apply a namespace
  fleetctl apply -f namespace.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

// resourceMetadata carries the name (and, for namespaced kinds,
// namespace) every kind's Create hook reads off the top-level data map.
type resourceMetadata struct {
	Name      string            `yaml:"name"`
	Namespace string            `yaml:"namespace,omitempty"`
	Labels    map[string]string `yaml:"labels,omitempty"`
}

// fleetResource is the generic envelope every apply file carries: a
// kind selecting which endpoint to hit, and a spec map merged flat
// onto the metadata before being posted, matching the shape each
// kind's Create hook expects.
type fleetResource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   resourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	var res fleetResource
	if err := yaml.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	c := clientFromCmd(cmd)
	ctx := cmd.Context()

	switch res.Kind {
	case "Namespace":
		return applyNamespace(ctx, c, &res)
	case "Cargo":
		return applyNamespacedKind(ctx, c, &res, "/cargoes")
	case "Vm":
		return applyNamespacedKind(ctx, c, &res, "/vms")
	case "Job":
		return applyBareKind(ctx, c, &res, "/jobs", true)
	case "Secret":
		return applyBareKind(ctx, c, &res, "/secrets", false)
	case "Resource":
		return applyBareKind(ctx, c, &res, "/resources", true)
	default:
		return fmt.Errorf("unsupported resource kind: %s", res.Kind)
	}
}

func envelope(res *fleetResource) map[string]any {
	body := map[string]any{}
	for k, v := range res.Spec {
		body[k] = v
	}
	body["name"] = res.Metadata.Name
	if len(res.Metadata.Labels) > 0 {
		body["labels"] = res.Metadata.Labels
	}
	return body
}

func applyNamespace(ctx context.Context, c *client, res *fleetResource) error {
	var out map[string]any
	err := c.post(ctx, "/namespaces", envelope(res), &out)
	if err == nil {
		fmt.Printf("namespace created: %s\n", res.Metadata.Name)
		return nil
	}
	if apiErr, ok := err.(*apiError); ok && apiErr.StatusCode == http.StatusConflict {
		fmt.Printf("namespace already exists: %s (namespaces have no update operation)\n", res.Metadata.Name)
		return nil
	}
	return fmt.Errorf("applying namespace %s: %w", res.Metadata.Name, err)
}

// applyNamespacedKind applies a Cargo/Vm resource: create, and on
// conflict fall back to a Put against the existing key since both
// kinds support a full-spec replace.
func applyNamespacedKind(ctx context.Context, c *client, res *fleetResource, path string) error {
	body := envelope(res)
	body["namespace"] = res.Metadata.Namespace

	var out map[string]any
	err := c.post(ctx, path, body, &out)
	if err == nil {
		fmt.Printf("%s created: %s\n", path, res.Metadata.Name)
		return nil
	}
	apiErr, ok := err.(*apiError)
	if !ok || apiErr.StatusCode != http.StatusConflict {
		return fmt.Errorf("applying %s %s: %w", path, res.Metadata.Name, err)
	}

	updatePath := fmt.Sprintf("%s/%s?namespace=%s", path, res.Metadata.Name, res.Metadata.Namespace)
	if err := c.put(ctx, updatePath, body, &out); err != nil {
		return fmt.Errorf("updating %s %s: %w", path, res.Metadata.Name, err)
	}
	fmt.Printf("%s updated: %s\n", path, res.Metadata.Name)
	return nil
}

// applyBareKind applies a bare-name-keyed resource (Job, Secret,
// Resource): create, and on conflict fall back to Put when the kind
// supports it.
func applyBareKind(ctx context.Context, c *client, res *fleetResource, path string, supportsPut bool) error {
	body := envelope(res)

	var out map[string]any
	err := c.post(ctx, path, body, &out)
	if err == nil {
		fmt.Printf("%s created: %s\n", path, res.Metadata.Name)
		return nil
	}
	apiErr, ok := err.(*apiError)
	if !ok || apiErr.StatusCode != http.StatusConflict || !supportsPut {
		return fmt.Errorf("applying %s %s: %w", path, res.Metadata.Name, err)
	}

	if err := c.put(ctx, path+"/"+res.Metadata.Name, body, &out); err != nil {
		return fmt.Errorf("updating %s %s: %w", path, res.Metadata.Name, err)
	}
	fmt.Printf("%s updated: %s\n", path, res.Metadata.Name)
	return nil
}
