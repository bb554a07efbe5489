package enrich

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/thriftstack/listing-cli/internal/model"
	"github.com/thriftstack/listing-cli/internal/tagrules"
	"github.com/thriftstack/listing-cli/pkg/genai"
	"github.com/thriftstack/listing-cli/pkg/pricing"
	"github.com/thriftstack/listing-cli/pkg/skugen"
)

// skuPendingNote is appended to an item's notes when SKU generation fails.
// The annotation is idempotent so repeated failures never duplicate it.
const skuPendingNote = "[sku-pending]"

// Merge applies an untrusted generated payload to a work item and returns
// the resulting partial field update. Free-text fields overwrite when the
// payload value is non-empty, enum-like fields go through validated
// normalization, condition is composite-parsed into condition+flaws, tags
// union with the category defaults, price is derived only when missing,
// and the SKU comes from the identifier generator once the garment type
// resolves. The item itself is not mutated.
func Merge(ctx context.Context, item *model.WorkItem, payload *genai.GeneratedFields, rules *tagrules.Rules, pricer pricing.Policy, skus skugen.Generator) model.Fields {
	fields := model.Fields{}

	// Working copy so derived steps see the already-merged values.
	merged := *item

	setText := func(name string, cur *string, val string) {
		if !usable(val) {
			return
		}
		*cur = strings.TrimSpace(val)
		fields[name] = *cur
	}

	setText("title", &merged.Title, payload.Title)
	setText("description", &merged.Description, payload.Description)
	setText("brand", &merged.Brand, payload.Brand)
	setText("material", &merged.Material, payload.Material)
	setText("size", &merged.Size, payload.Size)
	setText("label_size", &merged.LabelSize, payload.LabelSize)
	setText("style", &merged.Style, payload.Style)

	if usable(payload.GarmentType) {
		merged.GarmentType = TitleCase(payload.GarmentType)
		fields["garment_type"] = merged.GarmentType
	}

	if usable(payload.Era) {
		if era, ok := NormalizeEra(payload.Era); ok {
			merged.Era = era
			fields["era"] = era
		}
	}
	if usable(payload.Department) {
		if dept, ok := NormalizeDepartment(payload.Department); ok {
			merged.Department = dept
			fields["department"] = dept
		}
	}
	if usable(payload.Condition) {
		if cond, flaws, ok := SanitizeCondition(payload.Condition); ok {
			merged.Condition = cond
			fields["condition"] = cond
			if flaws != "" {
				merged.Flaws = flaws
				fields["flaws"] = flaws
			}
		}
	}

	if tags := tagrules.Union(rules.TagsFor(merged.GarmentType), payload.Tags); len(tags) > 0 {
		merged.Tags = tags
		fields["tags"] = tags
	}

	fields["confidence"] = payload.Confidence

	// Price is derived, never overwritten, and fed from the merged values
	// so it reflects this generation pass.
	if merged.Price <= 0 && pricer != nil {
		price, err := pricer.SuggestPrice(ctx, merged.GarmentType, pricing.Inputs{
			Brand:     merged.Brand,
			Material:  merged.Material,
			Condition: merged.Condition,
			Tags:      merged.Tags,
			Title:     merged.Title,
			Style:     merged.Style,
		})
		if err != nil {
			zap.L().Warn("enrich: price suggestion failed",
				zap.String("item", item.ID),
				zap.Error(err),
			)
		} else if price > 0 {
			fields["price"] = price
		}
	}

	if merged.SKU == "" && merged.GarmentType != "" && skus != nil {
		sku, err := skus.Generate(ctx, merged.GarmentType, merged.Size, merged.Era, merged.LabelSize)
		if err != nil {
			zap.L().Warn("enrich: sku generation failed",
				zap.String("item", item.ID),
				zap.Error(err),
			)
			if notes := annotateSKUPending(merged.Notes); notes != merged.Notes {
				fields["notes"] = notes
			}
		} else if sku != "" {
			fields["sku"] = sku
		}
	}

	return fields
}

// usable reports whether a payload value should overwrite: non-empty and
// not the literal string "null" the provider emits for unknowns.
func usable(val string) bool {
	v := strings.TrimSpace(val)
	return v != "" && !strings.EqualFold(v, "null")
}

// annotateSKUPending appends the pending marker to the notes unless it is
// already present.
func annotateSKUPending(notes string) string {
	if strings.Contains(notes, skuPendingNote) {
		return notes
	}
	if notes == "" {
		return skuPendingNote
	}
	return notes + " " + skuPendingNote
}
