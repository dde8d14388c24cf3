// Package docs is generated by swag init from the handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "system"
                ],
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                }
            }
        },
        "/auth/sign-up": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "auth"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "description": "Without a token this only creates the first operator of the terminal.",
                "summary": "Register an operator",
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "description": "Payload",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.authCredentials"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    },
                    "400": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "403": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/auth/sign-in": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "auth"
                ],
                "summary": "Operator sign-in",
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "description": "Payload",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.authCredentials"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    },
                    "400": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/v1/status": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "kiosk"
                ],
                "summary": "Sync status",
                "description": "Returns the status text computed by the last refresh tick.",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.StatusReport"
                        }
                    }
                }
            }
        },
        "/api/v1/status/long": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "kiosk"
                ],
                "summary": "Detailed sync status",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                }
            }
        },
        "/api/v1/scan": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "kiosk"
                ],
                "summary": "Check a scanned code",
                "description": "Blank input is ignored (204). While another code is being checked the scan is rejected (409) unless the busy policy queues it.",
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "description": "Payload",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.ScanRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.ScanOutcome"
                        }
                    },
                    "204": {
                        "description": "No Content"
                    },
                    "400": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "409": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/v1/async": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "kiosk"
                ],
                "summary": "Toggle offline scanning",
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "description": "Payload",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.AsyncRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    },
                    "400": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/v1/sync": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "kiosk"
                ],
                "summary": "Start a sync pass",
                "description": "Returns immediately; a pass that is already running is not restarted.",
                "responses": {
                    "202": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                }
            }
        },
        "/api/v1/cards": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "kiosk"
                ],
                "summary": "Visible result cards",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                }
            }
        },
        "/api/v1/cards/{id}": {
            "delete": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "kiosk"
                ],
                "summary": "Dismiss a result card",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Card id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    },
                    "404": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/v1/settings": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Current settings",
                "description": "The API key is never returned.",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.SettingsView"
                        }
                    },
                    "401": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/v1/settings/event": {
            "put": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Configure event",
                "description": "Stores credentials, drops the previous event's tickets and cards and starts a sync.",
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "description": "Payload",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/handlers.EventRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.SettingsView"
                        }
                    },
                    "400": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            },
            "delete": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Reset event",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.SettingsView"
                        }
                    },
                    "401": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/v1/settings/preferences": {
            "put": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "settings"
                ],
                "summary": "Update display preferences",
                "description": "Omitted fields are left unchanged.",
                "consumes": [
                    "application/json"
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "description": "Payload",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/service.PreferencesUpdate"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.SettingsView"
                        }
                    },
                    "400": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        },
        "/api/v1/logs": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "logs"
                ],
                "summary": "List scans",
                "description": "Filter the scan log by date. If 'to' is date-only, it is treated as end-of-day inclusive.",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "type": "string",
                        "example": "2025-08-01",
                        "description": "Start of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD')",
                        "name": "from",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "example": "2025-08-31",
                        "description": "End of range. Date-only treated as end of day.",
                        "name": "to",
                        "in": "query"
                    },
                    {
                        "enum": [
                            "VALID",
                            "USED",
                            "INVALID",
                            "ERROR",
                            "UNPAID",
                            "PRODUCT"
                        ],
                        "type": "string",
                        "description": "Result type",
                        "name": "type",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    },
                    "400": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "401": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "500": {
                        "description": "Error",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "handlers.authCredentials": {
            "type": "object",
            "required": [
                "password",
                "username"
            ],
            "properties": {
                "username": {
                    "type": "string"
                },
                "password": {
                    "type": "string"
                }
            }
        },
        "handlers.ScanRequest": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string",
                    "example": "TICKET-1"
                }
            }
        },
        "handlers.AsyncRequest": {
            "type": "object",
            "required": [
                "enabled"
            ],
            "properties": {
                "enabled": {
                    "type": "boolean",
                    "example": true
                }
            }
        },
        "handlers.EventRequest": {
            "type": "object",
            "required": [
                "api_url"
            ],
            "properties": {
                "api_url": {
                    "type": "string",
                    "example": "https://pretix.eu/api/v1/checkin/demo"
                },
                "api_key": {
                    "type": "string",
                    "example": "secret"
                },
                "api_version": {
                    "type": "integer",
                    "example": 4
                },
                "show_info": {
                    "type": "boolean"
                },
                "allow_search": {
                    "type": "boolean"
                }
            }
        },
        "models.CheckResult": {
            "type": "object",
            "properties": {
                "type": {
                    "type": "string",
                    "enum": [
                        "VALID",
                        "USED",
                        "INVALID",
                        "ERROR",
                        "UNPAID",
                        "PRODUCT"
                    ]
                },
                "message": {
                    "type": "string"
                },
                "ticket": {
                    "type": "string"
                },
                "variation": {
                    "type": "string"
                },
                "attendee_name": {
                    "type": "string"
                },
                "order_code": {
                    "type": "string"
                },
                "require_attention": {
                    "type": "boolean"
                }
            }
        },
        "models.ResultCard": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "result": {
                    "$ref": "#/definitions/models.CheckResult"
                },
                "headline": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string"
                },
                "expires_at": {
                    "type": "string"
                }
            }
        },
        "service.ScanOutcome": {
            "type": "object",
            "properties": {
                "result": {
                    "$ref": "#/definitions/models.CheckResult"
                },
                "card": {
                    "$ref": "#/definitions/models.ResultCard"
                }
            }
        },
        "service.StatusReport": {
            "type": "object",
            "properties": {
                "configured": {
                    "type": "boolean"
                },
                "text": {
                    "type": "string"
                },
                "long_text": {
                    "type": "string"
                },
                "async_mode": {
                    "type": "boolean"
                },
                "syncing": {
                    "type": "boolean"
                },
                "scan_state": {
                    "type": "string"
                }
            }
        },
        "service.SettingsView": {
            "type": "object",
            "properties": {
                "configured": {
                    "type": "boolean"
                },
                "api_url": {
                    "type": "string"
                },
                "api_version": {
                    "type": "integer"
                },
                "show_info": {
                    "type": "boolean"
                },
                "allow_search": {
                    "type": "boolean"
                },
                "play_sound": {
                    "type": "boolean"
                },
                "async_mode": {
                    "type": "boolean"
                },
                "last_sync": {
                    "type": "string"
                },
                "last_failed_sync": {
                    "type": "string"
                },
                "last_failed_sync_msg": {
                    "type": "string"
                },
                "last_download": {
                    "type": "string"
                }
            }
        },
        "service.PreferencesUpdate": {
            "type": "object",
            "properties": {
                "show_info": {
                    "type": "boolean"
                },
                "allow_search": {
                    "type": "boolean"
                },
                "play_sound": {
                    "type": "boolean"
                },
                "async_mode": {
                    "type": "boolean"
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and the operator JWT.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.9.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "ticket_desk API",
	Description:      "Offline-tolerant ticket-check terminal.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
