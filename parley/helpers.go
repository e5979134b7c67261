package parley

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordInteractionOptions extracts the interaction options from a
// Discord interaction.
//
// This function takes a Discord interaction and returns a map of the
// interaction's options, where the keys are the option names and the
// values are the corresponding option data.
func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

// humanizeDuration renders a duration as e.g. "2d 3h 4m 5s"
func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))
	return strings.Join(parts, " ")
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		logTag := field.Tag.Get("log")
		if logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip struct values that are nil or empty
		skip := false
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				skip = true
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				skip = true
			}
		case reflect.String:
			if fv.String() == "" || fv.Len() == 0 {
				skip = true
			}
		}

		if skip {
			continue
		}

		fieldValue := fv.Interface()
		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fieldValue)},
		)
	}

	return slog.GroupValue(groupAttrs...)
}
