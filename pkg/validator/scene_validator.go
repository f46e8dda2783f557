// Package validator performs structural validation of scene payloads
// before they reach the session engine or storage. Errors mark a payload
// the service must reject; warnings mark content that is storable but
// probably not what the author intended.
package validator

import (
	"fmt"
	"math"

	"github.com/rpattn/easel/internal/domain"
)

// SceneValidator validates scene payloads and individual items.
type SceneValidator struct{}

// NewSceneValidator creates a new scene validator.
func NewSceneValidator() *SceneValidator {
	return &SceneValidator{}
}

// ValidationError represents a validation error or warning.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation.
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// ValidateScene validates a full scene payload: every item individually,
// id uniqueness across the item list, and selection integrity. Selection
// referencing an absent item is a warning, not an error: the scene still
// loads, the selection just silently shrinks.
func (sv *SceneValidator) ValidateScene(payload domain.ScenePayload) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	seen := make(map[string]struct{}, len(payload.Items))
	for idx, item := range payload.Items {
		field := fmt.Sprintf("items[%d]", idx)
		errs, warns := sv.checkItem(field, item)
		if len(errs) > 0 {
			result.IsValid = false
			result.Errors = append(result.Errors, errs...)
		}
		result.Warnings = append(result.Warnings, warns...)

		if item.ID == "" {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate item id '%s'", item.ID),
				Value:   item.ID,
			})
			continue
		}
		seen[item.ID] = struct{}{}
	}

	for idx, id := range payload.SelectedIDs {
		if _, ok := seen[id]; !ok {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   fmt.Sprintf("selectedIds[%d]", idx),
				Message: fmt.Sprintf("selection references item '%s' which is not in the scene", id),
				Value:   id,
			})
		}
	}

	return result
}

// ValidateItem validates a single item outside of any scene context. The
// returned errors are empty for a storable item.
func (sv *SceneValidator) ValidateItem(item domain.Item) []ValidationError {
	errs, _ := sv.checkItem("item", item)
	return errs
}

func (sv *SceneValidator) checkItem(field string, item domain.Item) (errs, warns []ValidationError) {
	if item.ID == "" {
		errs = append(errs, ValidationError{
			Field:   field + ".id",
			Message: "item id must not be empty",
		})
	}
	if !domain.IsKnownKind(item.Kind) {
		errs = append(errs, ValidationError{
			Field:   field + ".kind",
			Message: fmt.Sprintf("unknown item kind '%s'", item.Kind),
			Value:   item.Kind,
		})
	}

	for name, v := range map[string]float64{
		"x": item.X, "y": item.Y,
		"width": item.Width, "height": item.Height,
		"rotation": item.Rotation, "scale": item.Scale,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, ValidationError{
				Field:   field + "." + name,
				Message: fmt.Sprintf("%s must be a finite number", name),
			})
		}
	}

	if item.Width < 0 || item.Height < 0 {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: "width and height must not be negative",
		})
	} else if item.Width == 0 || item.Height == 0 {
		warns = append(warns, ValidationError{
			Field:   field,
			Message: "item has zero width or height and will not be visible",
		})
	}
	if item.Scale == 0 && !math.IsNaN(item.Scale) {
		warns = append(warns, ValidationError{
			Field:   field + ".scale",
			Message: "item has zero scale and will not be visible",
		})
	}

	if item.Kind != domain.ItemKindPrompt && (item.PromptLabel != "" || item.PromptBody != "") {
		warns = append(warns, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("prompt fields are set on a '%s' item and will be ignored", item.Kind),
		})
	}

	return errs, warns
}
