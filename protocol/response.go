package protocol

// Response web接口统一的返回格式
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

func NewFailResponse(message string) *Response {
	return &Response{
		Success: false,
		Message: message,
	}
}
