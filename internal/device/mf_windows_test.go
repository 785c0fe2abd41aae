package device

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestPickDevice(t *testing.T) {
    names := []string{"Integrated Camera", "USB Video Device"}
    assert.Equal(t, 0, pickDevice("", names))
    assert.Equal(t, 0, pickDevice("default", names))
    assert.Equal(t, 1, pickDevice("1", names))
    assert.Equal(t, -1, pickDevice("2", names))
    assert.Equal(t, 1, pickDevice("usb", names))
    assert.Equal(t, -1, pickDevice("capture card", names))
    assert.Equal(t, -1, pickDevice("", nil))
}
