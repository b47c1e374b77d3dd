package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// DeviceResponse is returned by GET /device.
type DeviceResponse struct {
	// example: true
	Accelerator bool `json:"accelerator" example:"true"`
	// example: NVIDIA A100-SXM4-40GB
	Name string `json:"name,omitempty" example:"NVIDIA A100-SXM4-40GB"`
	// example: 8.0
	Capability string `json:"capability,omitempty" example:"8.0"`
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// example: bfloat16
	Dtype string `json:"dtype" example:"bfloat16"`
	// example: onnx
	Backend string `json:"backend" example:"onnx"`
}
