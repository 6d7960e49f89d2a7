package loader

import (
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func readFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy params failed: %w", err)
	}
	return raw, nil
}

// paramsSchema rejects malformed tuning before it reaches a generator.
// Unknown top-level sections are errors so a typo cannot silently fall
// back to defaults.
var paramsSchema = jsonschema.MustCompileString("strategy_params.json", `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "breakout": {
      "type": "object",
      "properties": {
        "schema_version": {"type": "integer", "minimum": 1},
        "enabled": {"type": "boolean"},
        "consolidation_bars": {"type": "integer", "minimum": 3, "maximum": 100},
        "max_range_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 0.2},
        "min_breakout_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 0.1},
        "volume_mult": {"type": "number", "minimum": 1},
        "max_atr_percentile": {"type": "number", "minimum": 0, "maximum": 100},
        "max_atr_spike_pct": {"type": "number", "minimum": 0},
        "volume_tiers": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "min_ratio": {"type": "number", "minimum": 0},
              "multiplier": {"type": "number", "exclusiveMinimum": 0}
            }
          }
        },
        "tp_multiples": {"$ref": "#/$defs/tp_multiples"},
        "tp_fractions": {"$ref": "#/$defs/tp_fractions"}
      }
    },
    "pullback": {
      "type": "object",
      "properties": {
        "schema_version": {"type": "integer", "minimum": 1},
        "enabled": {"type": "boolean"},
        "min_trend_strength": {"type": "number", "minimum": 0, "maximum": 1},
        "fib_low": {"type": "number", "minimum": 0, "maximum": 1},
        "fib_high": {"type": "number", "minimum": 0, "maximum": 1},
        "stop_buffer_atr": {"type": "number", "minimum": 0},
        "tp_multiples": {"$ref": "#/$defs/tp_multiples"},
        "tp_fractions": {"$ref": "#/$defs/tp_fractions"}
      }
    },
    "meanrev": {
      "type": "object",
      "properties": {
        "schema_version": {"type": "integer", "minimum": 1},
        "enabled": {"type": "boolean"},
        "max_trend_strength": {"type": "number", "minimum": 0, "maximum": 1},
        "rsi_oversold": {"type": "number", "minimum": 0, "maximum": 50},
        "rsi_overbought": {"type": "number", "minimum": 50, "maximum": 100},
        "stop_buffer_atr": {"type": "number", "minimum": 0},
        "min_reward_risk": {"type": "number", "minimum": 0},
        "midline_fraction": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "momentum": {
      "type": "object",
      "properties": {
        "schema_version": {"type": "integer", "minimum": 1},
        "enabled": {"type": "boolean"},
        "rsi_long_min": {"type": "number", "minimum": 0, "maximum": 100},
        "rsi_long_max": {"type": "number", "minimum": 0, "maximum": 100},
        "rsi_short_min": {"type": "number", "minimum": 0, "maximum": 100},
        "rsi_short_max": {"type": "number", "minimum": 0, "maximum": 100},
        "min_volume_mult": {"type": "number", "minimum": 0},
        "stop_atr_mult": {"type": "number", "exclusiveMinimum": 0},
        "tp_multiples": {"$ref": "#/$defs/tp_multiples"},
        "tp_fractions": {"$ref": "#/$defs/tp_fractions"}
      }
    },
    "fundingarb": {
      "type": "object",
      "properties": {
        "schema_version": {"type": "integer", "minimum": 1},
        "enabled": {"type": "boolean"},
        "round_trip_fee": {"type": "number", "minimum": 0, "maximum": 0.01},
        "min_edge": {"type": "number", "minimum": 0},
        "emergency_stop_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 0.1},
        "max_hold_bars": {"type": "integer", "minimum": 1}
      }
    },
    "structure": {
      "type": "object",
      "properties": {
        "schema_version": {"type": "integer", "minimum": 1},
        "enabled": {"type": "boolean"},
        "level_proximity_atr": {"type": "number", "exclusiveMinimum": 0},
        "min_touches": {"type": "integer", "minimum": 2},
        "stop_buffer_atr": {"type": "number", "minimum": 0},
        "tp_multiples": {"$ref": "#/$defs/tp_multiples"},
        "tp_fractions": {"$ref": "#/$defs/tp_fractions"}
      }
    }
  },
  "$defs": {
    "tp_multiples": {
      "type": "array",
      "minItems": 1,
      "maxItems": 5,
      "items": {"type": "number", "exclusiveMinimum": 0}
    },
    "tp_fractions": {
      "type": "array",
      "minItems": 1,
      "maxItems": 5,
      "items": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
    }
  }
}`)
