package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// Row is one decoded result row from the discovery backend. Column names
// and value types are whatever the backend returns for the configured query.
type Row map[string]interface{}

// ExecutionContext carries the addressing needed to open a remote command
// channel to a machine.
type ExecutionContext struct {
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
	Location       string `json:"location"`
}

// MachineRecord is one machine from the registry query. Records are
// immutable for the duration of one discovery cycle and re-fetched each
// cycle.
type MachineRecord struct {
	MachineName      string           `json:"machine_name"`
	ExecutionContext ExecutionContext `json:"execution_context"`
	OSType           string           `json:"os_type"`
	Status           string           `json:"status"`
}

// InventoryEntry is one installed-software row from the inventory query.
// Computer is the host name as reported by the inventory source and may
// differ in case from the registry's MachineName.
type InventoryEntry struct {
	Computer           string `json:"computer"`
	SoftwareName       string `json:"software_name"`
	SoftwareVersion    string `json:"software_version"`
	Publisher          string `json:"publisher"`
	VulnerabilityCount int    `json:"vulnerability_count"`
}

func machineFromRow(row Row) (MachineRecord, error) {
	name := stringField(row, "name")
	if name == "" {
		return MachineRecord{}, fmt.Errorf("machine row has no name")
	}

	return MachineRecord{
		MachineName: name,
		ExecutionContext: ExecutionContext{
			SubscriptionID: stringField(row, "subscriptionId"),
			ResourceGroup:  stringField(row, "resourceGroup"),
			Location:       stringField(row, "location"),
		},
		OSType: stringField(row, "osType"),
		Status: stringField(row, "status"),
	}, nil
}

func inventoryFromRow(row Row) (InventoryEntry, error) {
	computer := stringField(row, "computer")
	software := stringField(row, "softwareName")
	if computer == "" || software == "" {
		return InventoryEntry{}, fmt.Errorf("inventory row missing computer or softwareName")
	}

	return InventoryEntry{
		Computer:           computer,
		SoftwareName:       software,
		SoftwareVersion:    stringField(row, "softwareVersion"),
		Publisher:          stringField(row, "publisher"),
		VulnerabilityCount: countField(row, "vulnerabilityCount"),
	}, nil
}

func stringField(row Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// countField normalizes missing, null, empty, and malformed counts to 0.
func countField(row Row, key string) int {
	v, ok := row[key]
	if !ok || v == nil {
		return 0
	}

	var n int
	switch c := v.(type) {
	case float64:
		n = int(c)
	case int:
		n = c
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}

	if n < 0 {
		return 0
	}
	return n
}
