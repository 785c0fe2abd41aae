package stream

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestSyntheticConfigure(t *testing.T) {
    s := NewSyntheticSource(100, 4, 0)
    f, err := s.Configure(5, 3, EncodingYUYV)
    require.NoError(t, err)
    assert.Equal(t, Format{Width: 5, Height: 3, Stride: 12 + 4, Encoding: EncodingYUYV}, f)

    _, err = s.Configure(5, 3, EncodingRGB32)
    assert.Error(t, err)
    _, err = s.Configure(0, 3, EncodingYUYV)
    assert.Error(t, err)
}

func TestSyntheticRequiresConfigure(t *testing.T) {
    assert.Error(t, NewSyntheticSource(30, 0, 0).StartStream())
}

func TestSyntheticPoolSemantics(t *testing.T) {
    s := NewSyntheticSource(1000, 2, 0)
    _, err := s.Configure(8, 2, EncodingYUYV)
    require.NoError(t, err)
    require.NoError(t, s.StartStream())
    defer s.Close()

    var held []*RawFrame
    for i := 0; i < DefaultBufferCount; i++ {
        f, err := s.AcquireFrame()
        require.NoError(t, err)
        assert.Equal(t, uint64(i+1), f.Seq)
        held = append(held, f)
    }
    _, err = s.AcquireFrame()
    assert.Error(t, err, "pool is exhausted until a frame is released")

    require.NoError(t, s.ReleaseFrame(held[0]))
    assert.Error(t, s.ReleaseFrame(held[0]), "double release")
    assert.Error(t, s.ReleaseFrame(nil))

    f, err := s.AcquireFrame()
    require.NoError(t, err)
    assert.Equal(t, held[0].Index, f.Index, "the released buffer is reused")
}

func TestSyntheticFillsPadding(t *testing.T) {
    s := NewSyntheticSource(1000, 3, 0)
    _, err := s.Configure(4, 2, EncodingYUYV)
    require.NoError(t, err)
    require.NoError(t, s.StartStream())
    defer s.Close()

    f, err := s.AcquireFrame()
    require.NoError(t, err)
    require.Len(t, f.Data, 11*2)
    for row := 0; row < 2; row++ {
        assert.Equal(t, []byte{0xEE, 0xEE, 0xEE}, f.Data[row*11+8:row*11+11])
        // luma in studio range
        assert.GreaterOrEqual(t, f.Data[row*11], byte(16))
        assert.LessOrEqual(t, f.Data[row*11], byte(235))
    }
    require.NoError(t, s.ReleaseFrame(f))
}

func TestSyntheticStop(t *testing.T) {
    s := NewSyntheticSource(1000, 0, 0)
    _, err := s.Configure(2, 2, EncodingYUYV)
    require.NoError(t, err)
    require.NoError(t, s.StartStream())
    require.NoError(t, s.StopStream())
    require.NoError(t, s.StopStream(), "stop is idempotent")

    _, err = s.AcquireFrame()
    assert.ErrorIs(t, err, ErrStreamStopped)
}

func TestSyntheticBufferCount(t *testing.T) {
    s := NewSyntheticSource(1000, 0, 2)
    _, err := s.Configure(4, 2, EncodingYUYV)
    require.NoError(t, err)
    require.NoError(t, s.StartStream())
    defer s.Close()

    for i := 0; i < 2; i++ {
        _, err := s.AcquireFrame()
        require.NoError(t, err)
    }
    _, err = s.AcquireFrame()
    assert.Error(t, err, "only two buffers were asked for")
}
