package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SceneSnapshot represents the minimal data required to compute diffs
// between two versions of a scene, e.g. the local copy and a conflicting
// remote one.
type SceneSnapshot struct {
	Name        string
	Items       []Item
	SelectedIDs []string
}

// NewSceneSnapshot creates a snapshot from a live scene.
func NewSceneSnapshot(scene Scene) SceneSnapshot {
	return SceneSnapshot{
		Name:        scene.Name,
		Items:       cloneItems(scene.Items),
		SelectedIDs: cloneIDs(scene.SelectedIDs),
	}
}

// NewSceneSnapshotFromPayload creates a snapshot from a persisted payload.
func NewSceneSnapshotFromPayload(payload ScenePayload) SceneSnapshot {
	return SceneSnapshot{
		Name:        payload.Name,
		Items:       cloneItems(payload.Items),
		SelectedIDs: cloneIDs(payload.SelectedIDs),
	}
}

// CanonicalText flattens the snapshot into a deterministic set of lines
// suitable for diffing.
func (s SceneSnapshot) CanonicalText() ([]string, error) {
	lines := []string{
		fmt.Sprintf("Name: %s", s.Name),
		fmt.Sprintf("Selected: [%s]", strings.Join(s.SelectedIDs, " ")),
		"Items:",
	}

	if len(s.Items) == 0 {
		lines = append(lines, "  (empty)")
		return lines, nil
	}

	items := cloneItems(s.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	for _, item := range items {
		fields, err := flattenItemFields(item)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			lines = append(lines, fmt.Sprintf("  %s.%s: %s", item.ID, key, fields[key]))
		}
	}

	return lines, nil
}

// DiffSceneSnapshots produces a unified diff between two snapshots using the
// provided labels.
func DiffSceneSnapshots(baseLabel string, base *SceneSnapshot, targetLabel string, target *SceneSnapshot) (string, error) {
	baseString, err := canonicalString(base)
	if err != nil {
		return "", err
	}

	targetString, err := canonicalString(target)
	if err != nil {
		return "", err
	}

	return buildUnifiedDiff(baseLabel, targetLabel, baseString, targetString), nil
}

func canonicalString(snapshot *SceneSnapshot) (string, error) {
	if snapshot == nil {
		return "", nil
	}

	lines, err := snapshot.CanonicalText()
	if err != nil {
		return "", err
	}

	return strings.Join(lines, "\n") + "\n", nil
}

// flattenItemFields renders every item field as a stable key/value pair by
// round-tripping through the item's JSON form.
func flattenItemFields(item Item) (map[string]string, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten item %q: %w", item.ID, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten item %q: %w", item.ID, err)
	}
	delete(fields, "id")

	out := make(map[string]string, len(fields))
	for key, value := range fields {
		encoded, err := json.Marshal(value)
		if err != nil {
			out[key] = fmt.Sprintf("%v", value)
			continue
		}
		out[key] = string(encoded)
	}
	return out, nil
}

type diffOp struct {
	prefix string
	line   string
}

func buildUnifiedDiff(baseLabel, targetLabel, baseContent, targetContent string) string {
	baseLines := splitLines(baseContent)
	targetLines := splitLines(targetContent)

	ops := diffLines(baseLines, targetLines)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", baseLabel))
	builder.WriteString(fmt.Sprintf("+++ %s\n", targetLabel))
	builder.WriteString("@@ -0,0 +0,0 @@\n")
	for _, operation := range ops {
		builder.WriteString(operation.prefix)
		builder.WriteString(operation.line)
		builder.WriteString("\n")
	}

	return builder.String()
}

func splitLines(input string) []string {
	lines := strings.Split(input, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func diffLines(base, target []string) []diffOp {
	m := len(base)
	n := len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if base[i] == target[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		if base[i] == target[j] {
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
			continue
		}

		if dp[i+1][j] >= dp[i][j+1] {
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		} else {
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}

	for i < m {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
		i++
	}

	for j < n {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
		j++
	}

	return ops
}
