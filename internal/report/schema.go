package report

// Schema is the JSON Schema (Draft 2020-12) for the amplify run
// report. It documents the structure written by WriteJSON.
const Schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://github.com/unbound-force/amplify/run-report.schema.json",
  "title": "Amplify Run Report",
  "description": "Output schema for amplify run --format=json",
  "type": "object",
  "required": ["version", "run"],
  "properties": {
    "version": {
      "type": "string",
      "description": "Schema version (semver)"
    },
    "run": { "$ref": "#/$defs/RunReport" }
  },
  "$defs": {
    "RunReport": {
      "type": "object",
      "required": ["package", "idiom", "trace", "generation", "files", "summary", "metadata"],
      "properties": {
        "package": {
          "type": "string",
          "description": "Import path of the amplified package"
        },
        "idiom": {
          "type": "string",
          "enum": ["stdlib", "testify_assert", "testify_require", "gocmp", ""],
          "description": "Assertion idiom of the generated tests"
        },
        "trace": { "$ref": "#/$defs/TraceSummary" },
        "generation": { "$ref": "#/$defs/GenerationSummary" },
        "files": {
          "type": "array",
          "items": { "$ref": "#/$defs/FileReport" }
        },
        "summary": { "$ref": "#/$defs/RunSummary" },
        "metadata": { "$ref": "#/$defs/Metadata" }
      }
    },
    "TraceSummary": {
      "type": "object",
      "required": ["log_dir", "files", "calls", "methods", "malformed"],
      "properties": {
        "log_dir": { "type": "string" },
        "files": { "type": "integer", "minimum": 0 },
        "calls": { "type": "integer", "minimum": 0 },
        "methods": { "type": "integer", "minimum": 0 },
        "malformed": {
          "type": "integer",
          "minimum": 0,
          "description": "Log lines skipped as malformed"
        },
        "unreadable": {
          "type": "array",
          "items": { "type": "string" }
        }
      }
    },
    "GenerationSummary": {
      "type": "object",
      "required": ["seed", "attempted", "direct", "inlined", "ineligible", "failed", "duplicate", "ratio"],
      "properties": {
        "seed": {
          "type": "integer",
          "minimum": 0,
          "description": "Sampler seed"
        },
        "attempted": { "type": "integer", "minimum": 0 },
        "direct": { "type": "integer", "minimum": 0 },
        "inlined": { "type": "integer", "minimum": 0 },
        "ineligible": { "type": "integer", "minimum": 0 },
        "failed": { "type": "integer", "minimum": 0 },
        "duplicate": { "type": "integer", "minimum": 0 },
        "ratio": {
          "type": "number",
          "minimum": 0,
          "maximum": 1,
          "description": "Generated over attempted candidates"
        }
      }
    },
    "StageReport": {
      "type": "object",
      "required": ["outcome", "removed"],
      "properties": {
        "outcome": {
          "type": "string",
          "enum": ["completed", "corrupted", "skipped", "not_run"]
        },
        "removed": {
          "oneOf": [
            { "type": "array", "items": { "type": "string" } },
            { "type": "null" }
          ],
          "description": "Tests removed by the stage"
        },
        "error": { "type": "string" }
      }
    },
    "MethodTarget": {
      "type": "object",
      "required": ["id", "function", "complexity"],
      "properties": {
        "id": {
          "type": "string",
          "description": "Trace method id"
        },
        "function": { "type": "string" },
        "receiver": {
          "type": "string",
          "description": "Receiver type for methods (e.g., '*Point')"
        },
        "complexity": { "type": "integer", "minimum": 0 },
        "location": { "type": "string" }
      }
    },
    "TestReport": {
      "type": "object",
      "required": ["id", "name", "target", "strategy", "branches", "coverage_percent"],
      "properties": {
        "id": {
          "type": "string",
          "description": "Stable identifier (at-XXXXXXXX)"
        },
        "name": { "type": "string" },
        "target": { "$ref": "#/$defs/MethodTarget" },
        "strategy": {
          "type": "string",
          "enum": ["direct", "inlined"]
        },
        "panics": { "type": "boolean" },
        "branches": { "type": "integer", "minimum": 0 },
        "coverage_percent": {
          "type": "number",
          "minimum": 0,
          "maximum": 100
        }
      }
    },
    "FileReport": {
      "type": "object",
      "required": ["file", "type", "generated", "smoke", "minimize", "synthesize", "tests", "written"],
      "properties": {
        "file": { "type": "string" },
        "type": { "type": "string" },
        "generated": { "type": "integer", "minimum": 0 },
        "smoke": { "$ref": "#/$defs/StageReport" },
        "minimize": { "$ref": "#/$defs/StageReport" },
        "synthesize": { "$ref": "#/$defs/StageReport" },
        "tests": {
          "oneOf": [
            { "type": "array", "items": { "$ref": "#/$defs/TestReport" } },
            { "type": "null" }
          ]
        },
        "written": { "type": "boolean" }
      }
    },
    "RunSummary": {
      "type": "object",
      "required": ["files", "written", "generated", "kept", "removed"],
      "properties": {
        "files": { "type": "integer", "minimum": 0 },
        "written": { "type": "integer", "minimum": 0 },
        "generated": { "type": "integer", "minimum": 0 },
        "kept": { "type": "integer", "minimum": 0 },
        "removed": {
          "oneOf": [
            {
              "type": "object",
              "additionalProperties": { "type": "integer", "minimum": 0 }
            },
            { "type": "null" }
          ]
        }
      }
    },
    "Metadata": {
      "type": "object",
      "required": ["amplify_version", "go_version", "run_id", "duration_ms"],
      "properties": {
        "amplify_version": { "type": "string" },
        "go_version": { "type": "string" },
        "run_id": {
          "type": "string",
          "description": "Unique id of the run"
        },
        "duration_ms": {
          "type": "integer",
          "description": "Run duration in milliseconds"
        },
        "timestamp": { "type": "string" },
        "warnings": {
          "oneOf": [
            { "type": "array", "items": { "type": "string" } },
            { "type": "null" }
          ],
          "description": "Run warnings, if any"
        }
      }
    }
  }
}`
