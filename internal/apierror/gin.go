package apierror

import "github.com/gin-gonic/gin"

// AbortWithError renders err as the OpenAI error envelope and aborts the
// gin context, mirroring the teacher's AbortWithBadRequest-style helpers
// but unified on one taxonomy and one wire shape.
func AbortWithError(c *gin.Context, err *Error) {
	c.AbortWithStatusJSON(err.Kind.HTTPStatus(), err.ToOpenAI())
}

// WriteError renders err without aborting — used when the handler still
// needs to run deferred cleanup after responding.
func WriteError(c *gin.Context, err *Error) {
	c.JSON(err.Kind.HTTPStatus(), err.ToOpenAI())
}

// SSEFrame renders err as the literal "data: <json>\n\n" frame the stream
// propagation policy in spec.md §7 requires when bytes have already been
// flushed to the client.
func (e *Error) SSEFrame() []byte {
	body, _ := marshalSSEError(e)
	return body
}
